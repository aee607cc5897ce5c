// Package app wires recipe/tree/script/filestore/endpoint/job/dispatch/
// logparse/db/config into the end-to-end submit flow, the role the
// teacher's Fissile/BuildImages pairing plays for its own pipeline:
// a thin top-level orchestrator that loads input, builds an execution
// plan, and drives it to completion while reporting progress through UI.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/SUSE/stampy"
	"github.com/fatih/color"
	"github.com/pborman/uuid"

	"github.com/buildorch/butido/config"
	"github.com/buildorch/butido/db"
	"github.com/buildorch/butido/dispatch"
	"github.com/buildorch/butido/endpoint"
	"github.com/buildorch/butido/filestore"
	"github.com/buildorch/butido/job"
	"github.com/buildorch/butido/recipe"
	"github.com/buildorch/butido/script"
	"github.com/buildorch/butido/source"
	"github.com/buildorch/butido/tree"
	"github.com/buildorch/butido/util"
)

// Butido is the top-level orchestrator, constructed once per process and
// reused across every cobra subcommand the way the teacher's *app.Fissile
// is threaded through its cmd tree.
type Butido struct {
	Config  *config.Configuration
	UI      *util.UI
	Version string

	Recipes *recipe.Repository
	Stores  *filestore.MergedStores
	Sources *source.Cache
	Pool    *endpoint.Pool
	Jobs    *job.Builder
	Records dispatch.Recorder
}

// New loads the recipe repository, opens the filestore union, connects
// every configured docker endpoint, and opens the database connection
// pool, failing fast (ConfigError/connect errors) the way the teacher's
// init path does before any command runs.
func New(ctx context.Context, cfg *config.Configuration, recipesRoot string, out *os.File, version string) (*Butido, error) {
	ui := util.NewUI(out)

	repo, err := recipe.NewRepository(recipesRoot)
	if err != nil {
		return nil, fmt.Errorf("app: loading recipes: %w", err)
	}

	staging, err := filestore.NewStagingStore(cfg.ReleasesDirectory + "/.staging")
	if err != nil {
		return nil, fmt.Errorf("app: opening staging store: %w", err)
	}
	stores := &filestore.MergedStores{Staging: staging}

	srcCache, err := source.NewCache(cfg.ReleasesDirectory + "/.sources")
	if err != nil {
		return nil, fmt.Errorf("app: opening source cache: %w", err)
	}

	pool, err := endpoint.SetupEndpoints(ctx, cfg.EndpointConfigs())
	if err != nil {
		return nil, fmt.Errorf("app: connecting endpoints: %w", err)
	}

	recorder, err := db.NewRecorder(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("app: opening database: %w", err)
	}

	builder := &job.Builder{
		ScriptBuilder: script.NewBuilder(defaultShebang, defaultPhases),
		Stores:        stores,
		SourceCache:   srcCache,
		Warn:          ui,
	}

	return &Butido{
		Config:  cfg,
		UI:      ui,
		Version: version,
		Recipes: repo,
		Stores:  stores,
		Sources: srcCache,
		Pool:    pool,
		Jobs:    builder,
		Records: recorder,
	}, nil
}

const defaultShebang = "#!/bin/sh\nset -e\n"

var defaultPhases = map[string]string{
	"fetch":   "echo fetching {{.Name}}-{{.Version}}",
	"build":   "echo building {{.Name}}-{{.Version}}",
	"install": "echo installing {{.Name}}-{{.Version}}",
}

// SubmitOptions contains all option values for the `butido build` command.
type SubmitOptions struct {
	PackageName    string
	PackageVersion string
	Image          string
	RepoHash       string
	MaxInFlight    int
	JobTimeout     time.Duration
	MaxRetries     int
	MetricsPath    string
}

// Submit builds opt.PackageName/opt.PackageVersion's dependency tree,
// schedules every job across the endpoint pool, and persists each terminal
// record. It does not promote the produced artifacts; Promote does that
// for one artifact at a time. It mirrors the shape of the teacher's BuildImages: resolve, validate,
// dispatch, report.
func (b *Butido) Submit(ctx context.Context, opt SubmitOptions) (*dispatch.Result, error) {
	root, ok := b.Recipes.Lookup(recipe.PackageName(opt.PackageName), recipe.PackageVersion(opt.PackageVersion))
	if !ok {
		return nil, fmt.Errorf("app: package %s=%s not found", opt.PackageName, opt.PackageVersion)
	}

	// --image accepts a short name from docker.images as well as a fully
	// qualified reference; resolve it once so tree/dispatch and every
	// endpoint's DeclaresImage check compare against the same value.
	opt.Image = b.Config.DockerImages.ResolveImage(opt.Image)

	if opt.MetricsPath != "" {
		stampy.Stamp(opt.MetricsPath, "butido", "submit", "start")
		defer stampy.Stamp(opt.MetricsPath, "butido", "submit", "done")
	}

	b.UI.Printf("Resolving dependency tree for %s ...\n", color.YellowString("%s=%s", root.Name, root.Version))
	tr, err := tree.Build(b.Recipes, root, nil)
	if err != nil {
		return nil, fmt.Errorf("app: building tree: %w", err)
	}
	b.UI.Printf("Tree has %d packages.\n", tr.Len())

	submitUUID := uuid.New()
	if err := b.recordSubmit(ctx, submitUUID, opt); err != nil {
		return nil, err
	}

	progress := dispatch.NewMultiBarSink(os.Stdout, false)
	defer progress.Close()

	d := &dispatch.Dispatcher{
		Endpoints:   b.Pool,
		Jobs:        b.Jobs,
		Stores:      b.Stores,
		Recorder:    b.Records,
		Progress:    progress,
		MetricsPath: opt.MetricsPath,
		MaxInFlight: opt.MaxInFlight,
		JobTimeout:  opt.JobTimeout,
		MaxRetries:  opt.MaxRetries,
		Warn:        b.UI,
	}

	result, err := d.Submit(ctx, submitUUID, tr, opt.Image)
	if err != nil {
		return nil, fmt.Errorf("app: dispatching: %w", err)
	}

	verdict := result.Verdict()
	if verdict == dispatch.Succeeded {
		b.UI.Success("Submit %s: %s\n", submitUUID, verdict)
	} else {
		b.UI.Error("Submit %s: %s\n", submitUUID, verdict)
	}

	return result, nil
}

// recordSubmit upserts the submit's githash/package/image rows before any
// job dispatches, satisfying db's repo-hash-and-requested-package
// bookkeeping independent of per-job records.
func (b *Butido) recordSubmit(ctx context.Context, submitUUID string, opt SubmitOptions) error {
	recorder, ok := b.Records.(interface {
		BeginSubmit(ctx context.Context, submitUUID, repoHash, pkgName, pkgVersion, image string) error
	})
	if !ok {
		return nil
	}
	if err := recorder.BeginSubmit(ctx, submitUUID, opt.RepoHash, opt.PackageName, opt.PackageVersion, opt.Image); err != nil {
		return fmt.Errorf("app: recording submit: %w", err)
	}
	return nil
}

// Promote moves artifactPath from staging into the named release store,
// recording the release in the database alongside the filestore copy —
// the write path SPEC_FULL.md calls out as distinct from job-record
// persistence.
func (b *Butido) Promote(ctx context.Context, artifactPath, storeName, storeRoot, jobUUID string) error {
	store, err := filestore.NewReleaseStore(storeName, storeRoot)
	if err != nil {
		return fmt.Errorf("app: opening release store %s: %w", storeName, err)
	}
	if b.Config.ReleasesCompress {
		if _, err := store.PromoteCompressed(b.Stores.Staging, artifactPath, jobUUID); err != nil {
			return fmt.Errorf("app: promoting %s: %w", artifactPath, err)
		}
	} else if _, err := store.Promote(b.Stores.Staging, artifactPath, jobUUID); err != nil {
		return fmt.Errorf("app: promoting %s: %w", artifactPath, err)
	}
	b.Stores.Releases = append(b.Stores.Releases, store)

	recorder, ok := b.Records.(interface {
		PromoteArtifact(ctx context.Context, artifactPath, storeName string, when time.Time) error
	})
	if !ok {
		return nil
	}
	return recorder.PromoteArtifact(ctx, artifactPath, storeName, time.Now())
}

// Close releases the database pool when the recorder has a Close method.
// Endpoint clients are not closed here.
func (b *Butido) Close() {
	if closer, ok := b.Records.(interface{ Close() }); ok {
		closer.Close()
	}
}
