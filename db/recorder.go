package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildorch/butido/dispatch"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the
// upsert helpers below run inside or outside an explicit transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Recorder performs idempotent upserts keyed by natural identifiers (uuid
// for submit/job, (name, version) for package, hash for githash, path for
// artifact) against a PostgreSQL database. It satisfies dispatch.Recorder.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder opens a connection pool against dsn and verifies connectivity.
func NewRecorder(ctx context.Context, dsn string) (*Recorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: pinging database: %w", err)
	}
	return &Recorder{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (r *Recorder) Close() { r.pool.Close() }

// BeginSubmit upserts the githash, requested package, and image rows, then
// inserts the submit row. Called once per campaign, before any jobs run.
func (r *Recorder) BeginSubmit(ctx context.Context, submitUUID, repoHash, pkgName, pkgVersion, image string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	hashID, err := upsertNamed(ctx, tx, "githashes", "hash", repoHash)
	if err != nil {
		return err
	}
	pkgID, err := upsertPackage(ctx, tx, pkgName, pkgVersion)
	if err != nil {
		return err
	}
	imageID, err := upsertNamed(ctx, tx, "images", "name", image)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO submits (uuid, submit_time, repo_hash_id, requested_package_id, image_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uuid) DO NOTHING
	`, submitUUID, time.Now().UTC(), hashID, pkgID, imageID)
	if err != nil {
		return fmt.Errorf("db: inserting submit: %w", err)
	}

	return tx.Commit(ctx)
}

// RecordJob upserts a job row (and its envvar joins) within a transaction,
// satisfying dispatch.Recorder. A missing foreign reference (unknown
// submit) is a hard failure, per spec.md §4.I.
func (r *Recorder) RecordJob(ctx context.Context, rec dispatch.JobRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin job record: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var submitID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM submits WHERE uuid = $1`, rec.SubmitUUID).Scan(&submitID); err != nil {
		return fmt.Errorf("db: job references unknown submit %s: %w", rec.SubmitUUID, err)
	}

	pkgID, err := upsertPackage(ctx, tx, string(rec.Package.Name), string(rec.Package.Version))
	if err != nil {
		return err
	}
	imageID, err := upsertNamed(ctx, tx, "images", "name", rec.ImageName)
	if err != nil {
		return err
	}

	var endpointID *int64
	if rec.Endpoint != "" {
		id, err := upsertNamed(ctx, tx, "endpoints", "name", rec.Endpoint)
		if err != nil {
			return err
		}
		endpointID = &id
	}

	var jobID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO jobs (uuid, submit_id, package_id, image_id, endpoint_id, container_hash, script_text, log_text, state, cause, ambiguous)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (uuid) DO UPDATE SET
			endpoint_id = EXCLUDED.endpoint_id,
			container_hash = EXCLUDED.container_hash,
			script_text = EXCLUDED.script_text,
			log_text = EXCLUDED.log_text,
			state = EXCLUDED.state,
			cause = EXCLUDED.cause,
			ambiguous = EXCLUDED.ambiguous
		RETURNING id
	`, rec.JobUUID, submitID, pkgID, imageID, endpointID, rec.ContainerHash, rec.ScriptText, rec.LogText, rec.State.String(), rec.Cause, rec.Ambiguous).Scan(&jobID)
	if err != nil {
		return fmt.Errorf("db: upserting job: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM job_envs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("db: clearing job envs: %w", err)
	}
	for i, e := range rec.Envs {
		envID, err := upsertEnvVar(ctx, tx, e.Name, e.Value)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO job_envs (job_id, envvar_id, position) VALUES ($1, $2, $3)
		`, jobID, envID, i); err != nil {
			return fmt.Errorf("db: inserting job env: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RecordArtifact upserts one artifact produced by jobUUID, keyed by its
// unique store-relative path.
func (r *Recorder) RecordArtifact(ctx context.Context, path, jobUUID string) error {
	var jobID int64
	if err := r.pool.QueryRow(ctx, `SELECT id FROM jobs WHERE uuid = $1`, jobUUID).Scan(&jobID); err != nil {
		return fmt.Errorf("db: artifact references unknown job %s: %w", jobUUID, err)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO artifacts (path, producing_job_id) VALUES ($1, $2)
		ON CONFLICT (path) DO NOTHING
	`, path, jobID)
	if err != nil {
		return fmt.Errorf("db: upserting artifact %s: %w", path, err)
	}
	return nil
}

// PromoteArtifact records a release: an artifact's promotion from staging
// into a named release store. The filestore-level copy (filestore.ReleaseStore.Promote)
// is a separate write path; this is its database-side counterpart, done in
// the same transactional spirit spec.md §3's Release entity calls for.
func (r *Recorder) PromoteArtifact(ctx context.Context, artifactPath, storeName string, when time.Time) error {
	var artifactID int64
	if err := r.pool.QueryRow(ctx, `SELECT id FROM artifacts WHERE path = $1`, artifactPath).Scan(&artifactID); err != nil {
		return fmt.Errorf("db: promoting unknown artifact %s: %w", artifactPath, err)
	}
	storeID, err := upsertNamed(ctx, r.pool, "release_stores", "name", storeName)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO releases (artifact_id, release_store_id, release_date)
		VALUES ($1, $2, $3)
		ON CONFLICT (artifact_id, release_store_id) DO UPDATE SET release_date = EXCLUDED.release_date
	`, artifactID, storeID, when.UTC())
	if err != nil {
		return fmt.Errorf("db: recording release: %w", err)
	}
	return nil
}

// upsertNamed upserts a single (name-column) row into a lookup table
// (githashes, images, endpoints, release_stores) and returns its id.
func upsertNamed(ctx context.Context, q querier, table, column, value string) (int64, error) {
	var id int64
	sql := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1)
		ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s
		RETURNING id
	`, table, column, column, column, column)
	if err := q.QueryRow(ctx, sql, value).Scan(&id); err != nil {
		return 0, fmt.Errorf("db: upserting %s.%s=%q: %w", table, column, value, err)
	}
	return id, nil
}

func upsertPackage(ctx context.Context, tx pgx.Tx, name, version string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO packages (name, version) VALUES ($1, $2)
		ON CONFLICT (name, version) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name, version).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: upserting package %s=%s: %w", name, version, err)
	}
	return id, nil
}

func upsertEnvVar(ctx context.Context, tx pgx.Tx, name, value string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO envvars (name, value) VALUES ($1, $2)
		ON CONFLICT (name, value) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name, value).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: upserting envvar %s: %w", name, err)
	}
	return id, nil
}
