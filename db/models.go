// Package db is the persistence surface: idempotent upserts for submits,
// jobs, envvars, artifacts, and releases, a forward-only embedded migration
// driver, and a predicate-builder query surface for the read side.
//
// Grounded on the original implementation's commands/db.rs (diesel
// models/schema, transactional submit writes) translated to Go idiom:
// database/sql semantics over jackc/pgx/v5, the same driver
// other_examples/manifests/eslerm-melange2 uses for a comparable
// build-pipeline store.
package db

import "time"

// Submit is the root of a build campaign: one submit fans out to many jobs.
type Submit struct {
	ID                 int64
	UUID               string
	SubmitTime         time.Time
	RepoHash           string
	RequestedPackage   string
	RequestedVersion   string
	Image              string
}

// Job is the persisted projection of a dispatch.JobRecord.
type Job struct {
	ID            int64
	UUID          string
	SubmitUUID    string
	PackageName   string
	PackageVersion string
	Image         string
	Endpoint      string
	ContainerHash string
	ScriptText    string
	LogText       string
	State         string
	Cause         string
	Ambiguous     bool
	Envs          []EnvVar
	CreatedAt     time.Time
}

// EnvVar is one entry of a job's insertion-ordered JobEnv join.
type EnvVar struct {
	Name  string
	Value string
}

// Artifact is one file produced by a job and indexed in a store.
type Artifact struct {
	ID              int64
	Path            string
	ProducingJobUUID string
}

// Release promotes an artifact from staging into a named release store.
type Release struct {
	ID              int64
	ArtifactPath    string
	ReleaseStore    string
	ReleaseDate     time.Time
}
