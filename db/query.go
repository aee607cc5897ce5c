package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Queries is the read-side predicate-builder surface for reporting (no
// CLI subcommand calls it): older_than, newer_than, for-commit, image, with_pkg,
// for_pkg, store, package, endpoint, env_filter. Each filter is an
// independent predicate combined with AND, producing a parameterized SQL
// statement plus bind list rather than a typed query-builder DSL — no
// query-builder library appears anywhere in the retrieval pack, and the
// predicate set is small and spec-enumerated.
type Queries struct {
	db interface {
		Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	}
}

// NewQueries wraps an existing Recorder's connection pool for read-only
// reporting. Sharing the pool keeps a single DSN/config surface for both
// the write path (Recorder) and the read path (Queries).
func NewQueries(r *Recorder) *Queries {
	return &Queries{db: r.pool}
}

// Filter narrows a List call; construct one with the helpers below.
type Filter struct {
	clause string
	args   []interface{}
}

func OlderThan(t time.Time) Filter  { return Filter{"s.submit_time < ?", []interface{}{t}} }
func NewerThan(t time.Time) Filter  { return Filter{"s.submit_time > ?", []interface{}{t}} }
func ForCommit(hash string) Filter  { return Filter{"g.hash = ?", []interface{}{hash}} }
func ForImage(name string) Filter   { return Filter{"i.name = ?", []interface{}{name}} }
func ForEndpoint(name string) Filter { return Filter{"e.name = ?", []interface{}{name}} }
func ForStore(name string) Filter   { return Filter{"rs.name = ?", []interface{}{name}} }

// WithPkg filters submits by the package that was originally requested.
func WithPkg(name, version string) Filter {
	return Filter{"(rp.name = ? AND rp.version = ?)", []interface{}{name, version}}
}

// ForPkg filters jobs by the package the job actually built.
func ForPkg(name, version string) Filter {
	return Filter{"(p.name = ? AND p.version = ?)", []interface{}{name, version}}
}

func EnvEquals(name, value string) Filter {
	return Filter{"EXISTS (SELECT 1 FROM job_envs je JOIN envvars ev ON ev.id = je.envvar_id WHERE je.job_id = j.id AND ev.name = ? AND ev.value = ?)", []interface{}{name, value}}
}

// build renders filters into a WHERE clause (empty string if none) plus
// its positional bind list, rewriting "?" placeholders into PostgreSQL's
// "$n" form in left-to-right order.
func build(filters []Filter, startArg int) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}
	var clauses []string
	var args []interface{}
	n := startArg - 1
	for _, f := range filters {
		clause := f.clause
		for _, a := range f.args {
			n++
			clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", n), 1)
			args = append(args, a)
		}
		clauses = append(clauses, "("+clause+")")
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// reverse flips s in place so a descending-primary-key-ordered, limited
// window reads oldest-first, per spec.md §4.K.
func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// ListSubmits returns submits matching filters, newest-window-first
// selected then reversed to oldest-first within that window. limit <= 0
// means unbounded.
func (q *Queries) ListSubmits(ctx context.Context, filters []Filter, limit int) ([]Submit, error) {
	where, args := build(filters, 1)
	sql := fmt.Sprintf(`
		SELECT s.id, s.uuid, s.submit_time, g.hash, rp.name, rp.version, i.name
		FROM submits s
		JOIN githashes g ON g.id = s.repo_hash_id
		JOIN packages rp ON rp.id = s.requested_package_id
		JOIN images i ON i.id = s.image_id
		%s
		ORDER BY s.id DESC
	`, where)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: listing submits: %w", err)
	}
	defer rows.Close()

	var out []Submit
	for rows.Next() {
		var s Submit
		if err := rows.Scan(&s.ID, &s.UUID, &s.SubmitTime, &s.RepoHash, &s.RequestedPackage, &s.RequestedVersion, &s.Image); err != nil {
			return nil, fmt.Errorf("db: scanning submit: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// ListJobs returns jobs matching filters, oldest-first within the
// selected limit window. A job's envs are not populated here; fetch them
// with EnvsForJob when the caller needs the full record.
func (q *Queries) ListJobs(ctx context.Context, filters []Filter, limit int) ([]Job, error) {
	where, args := build(filters, 1)
	sql := fmt.Sprintf(`
		SELECT j.id, j.uuid, s.uuid, p.name, p.version, i.name,
		       COALESCE(e.name, ''), j.container_hash, j.script_text,
		       j.log_text, j.state, j.cause, j.ambiguous, j.created_at
		FROM jobs j
		JOIN submits s ON s.id = j.submit_id
		JOIN githashes g ON g.id = s.repo_hash_id
		JOIN packages rp ON rp.id = s.requested_package_id
		JOIN packages p ON p.id = j.package_id
		JOIN images i ON i.id = j.image_id
		LEFT JOIN endpoints e ON e.id = j.endpoint_id
		%s
		ORDER BY j.id DESC
	`, where)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: listing jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.UUID, &j.SubmitUUID, &j.PackageName, &j.PackageVersion,
			&j.Image, &j.Endpoint, &j.ContainerHash, &j.ScriptText, &j.LogText,
			&j.State, &j.Cause, &j.Ambiguous, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("db: scanning job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// EnvsForJob returns jobUUID's environment variables in their original
// assignment order.
func (q *Queries) EnvsForJob(ctx context.Context, jobUUID string) ([]EnvVar, error) {
	rows, err := q.db.Query(ctx, `
		SELECT ev.name, ev.value
		FROM job_envs je
		JOIN envvars ev ON ev.id = je.envvar_id
		JOIN jobs j ON j.id = je.job_id
		WHERE j.uuid = $1
		ORDER BY je.position ASC
	`, jobUUID)
	if err != nil {
		return nil, fmt.Errorf("db: listing job envs for %s: %w", jobUUID, err)
	}
	defer rows.Close()

	var out []EnvVar
	for rows.Next() {
		var e EnvVar
		if err := rows.Scan(&e.Name, &e.Value); err != nil {
			return nil, fmt.Errorf("db: scanning job env: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListArtifacts returns artifacts matching filters (typically ForPkg via
// their producing job), oldest-first.
func (q *Queries) ListArtifacts(ctx context.Context, filters []Filter, limit int) ([]Artifact, error) {
	where, args := build(filters, 1)
	sql := fmt.Sprintf(`
		SELECT a.id, a.path, j.uuid
		FROM artifacts a
		JOIN jobs j ON j.id = a.producing_job_id
		JOIN packages p ON p.id = j.package_id
		JOIN submits s ON s.id = j.submit_id
		JOIN githashes g ON g.id = s.repo_hash_id
		JOIN packages rp ON rp.id = s.requested_package_id
		JOIN images i ON i.id = j.image_id
		LEFT JOIN endpoints e ON e.id = j.endpoint_id
		%s
		ORDER BY a.id DESC
	`, where)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.Path, &a.ProducingJobUUID); err != nil {
			return nil, fmt.Errorf("db: scanning artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// ListReleases returns releases matching filters (typically ForStore),
// oldest-first.
func (q *Queries) ListReleases(ctx context.Context, filters []Filter, limit int) ([]Release, error) {
	where, args := build(filters, 1)
	sql := fmt.Sprintf(`
		SELECT r.id, a.path, rs.name, r.release_date
		FROM releases r
		JOIN artifacts a ON a.id = r.artifact_id
		JOIN release_stores rs ON rs.id = r.release_store_id
		%s
		ORDER BY r.id DESC
	`, where)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: listing releases: %w", err)
	}
	defer rows.Close()

	var out []Release
	for rows.Next() {
		var r Release
		if err := rows.Scan(&r.ID, &r.ArtifactPath, &r.ReleaseStore, &r.ReleaseDate); err != nil {
			return nil, fmt.Errorf("db: scanning release: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}
