// Package job builds RunnableJobs: a package's rendered script plus its
// fully resolved artifact and env-var inputs, ready for the Dispatcher.
// Grounded on the original implementation's RunnableJob::build_from_job,
// which resolves build and runtime dependencies concurrently and then joins
// build resources ahead of runtime resources.
package job

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	shutil "github.com/termie/go-shutil"

	"github.com/buildorch/butido/filestore"
	"github.com/buildorch/butido/recipe"
	"github.com/buildorch/butido/script"
	"github.com/buildorch/butido/source"
	"github.com/pborman/uuid"
)

// ResourceKind tags a JobResource as an artifact or an environment variable.
type ResourceKind int

const (
	ResourceArtifact ResourceKind = iota
	ResourceEnvVar
)

// Resource is carried as an input into the container: either a resolved
// artifact or a literal env var.
type Resource struct {
	Kind     ResourceKind
	Artifact filestore.Artifact
	EnvName  string
	EnvValue string
}

// MissingDependency reports that no artifact satisfies a resolved
// dependency in the merged store.
type MissingDependency struct {
	Name    recipe.PackageName
	Version recipe.PackageVersion
}

func (e *MissingDependency) Error() string {
	return fmt.Sprintf("job: cannot find dependency %s=%s in merged store", e.Name, e.Version)
}

// Ambiguity records that more than one artifact matched a dependency; the
// builder warns, picks the first by stable sort, and surfaces the
// ambiguity so it stays queryable after the fact.
type Ambiguity struct {
	Name       recipe.PackageName
	Version    recipe.PackageVersion
	Candidates []filestore.Artifact
	Chosen     filestore.Artifact
}

// RunnableJob is a Job whose inputs are fully resolved and ready to
// dispatch. It is not itself persisted; its persistence projection is the
// Job database record.
type RunnableJob struct {
	UUID       string
	Package    recipe.Package
	ImageName  string
	Source     *source.Handle
	Script     script.Script
	Resources  []Resource
	Ambiguous  []Ambiguity

	// EnvVars carries pkg's literal environment variables in declaration
	// order, for the Dispatcher to attach onto the persisted Job's JobEnv
	// join. Kept separate from Resources so that Resources.len() ==
	// |build deps| + |runtime deps| holds regardless of how many envs a
	// package declares.
	EnvVars []Resource
}

// Warner receives human-readable warnings emitted during resolution, e.g.
// ambiguous-match notices. Pass nil to discard them.
type Warner interface {
	Warnf(format string, args ...interface{})
}

// Builder constructs RunnableJobs against a script renderer, a merged
// artifact view, and a source cache.
type Builder struct {
	ScriptBuilder *script.Builder
	Stores        *filestore.MergedStores
	SourceCache   *source.Cache
	Warn          Warner
}

// Build renders pkg's script and concurrently resolves its build and
// runtime dependencies against the merged store, producing a RunnableJob
// whose resources are build-resolved entries followed by runtime-resolved
// entries. resolved carries the actual version the tree resolver picked for
// each dependency name (tree.Build already settled >=/~>/etc constraints
// down to one concrete version per name); a name missing from resolved
// falls back to the dependency's literal constraint version, which is only
// correct for an "=" constraint and is the behavior exercised by callers
// (e.g. tests) that build a RunnableJob outside of a resolved Tree.
func (b *Builder) Build(pkg recipe.Package, imageName string, resolved map[recipe.PackageName]recipe.PackageVersion) (*RunnableJob, error) {
	rendered, err := b.ScriptBuilder.Build(pkg)
	if err != nil {
		return nil, err
	}

	var buildResources, runtimeResources []Resource
	var buildAmbiguous, runtimeAmbiguous []Ambiguity

	g := new(errgroup.Group)
	g.Go(func() error {
		res, amb, err := b.resolveDeps(pkg.BuildDependencies, resolved)
		buildResources, buildAmbiguous = res, amb
		return err
	})
	g.Go(func() error {
		res, amb, err := b.resolveDeps(pkg.RuntimeDependencies, resolved)
		runtimeResources, runtimeAmbiguous = res, amb
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	src, err := b.SourceCache.Handle(pkg)
	if err != nil {
		return nil, err
	}

	resources := make([]Resource, 0, len(buildResources)+len(runtimeResources))
	resources = append(resources, buildResources...)
	resources = append(resources, runtimeResources...)

	ambiguous := append(buildAmbiguous, runtimeAmbiguous...)

	envVars := make([]Resource, 0, len(pkg.Envs))
	for _, e := range pkg.Envs {
		envVars = append(envVars, Resource{Kind: ResourceEnvVar, EnvName: e.Name, EnvValue: e.Value})
	}

	return &RunnableJob{
		UUID:      uuid.New(),
		Package:   pkg,
		ImageName: imageName,
		Source:    src,
		Script:    rendered,
		Resources: resources,
		Ambiguous: ambiguous,
		EnvVars:   envVars,
	}, nil
}

// StageInto materializes every resolved build-dependency artifact into
// destDir/deps/<basename>, mirroring the teacher's Compilator.copyDependencies
// assembly of compiled packages into a fresh container build root before
// upload. Directory artifacts are copied recursively; single-file artifacts
// are copied directly.
func (rj *RunnableJob) StageInto(stores *filestore.MergedStores, destDir string) error {
	depsDir := filepath.Join(destDir, "deps")
	if err := os.MkdirAll(depsDir, 0o755); err != nil {
		return fmt.Errorf("job: creating deps dir: %w", err)
	}
	buildResources := rj.Resources
	if n := len(rj.Package.BuildDependencies); n < len(buildResources) {
		buildResources = buildResources[:n]
	}
	for _, res := range buildResources {
		if res.Kind != ResourceArtifact {
			continue
		}
		full, ok := stores.ResolvePath(res.Artifact)
		if !ok {
			continue
		}
		dest := filepath.Join(depsDir, filepath.Base(res.Artifact.Path))
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("job: staging %s: %w", res.Artifact.Path, err)
		}
		if info.IsDir() {
			if err := os.RemoveAll(dest); err != nil {
				return fmt.Errorf("job: staging %s: %w", res.Artifact.Path, err)
			}
			if err := shutil.CopyTree(full, dest, &shutil.CopyTreeOptions{
				Symlinks:     true,
				CopyFunction: shutil.Copy,
			}); err != nil {
				return fmt.Errorf("job: staging %s: %w", res.Artifact.Path, err)
			}
			continue
		}
		if err := shutil.Copy(full, dest, false); err != nil {
			return fmt.Errorf("job: staging %s: %w", res.Artifact.Path, err)
		}
	}
	return nil
}

func (b *Builder) resolveDeps(deps []recipe.Dependency, resolved map[recipe.PackageName]recipe.PackageVersion) ([]Resource, []Ambiguity, error) {
	var resources []Resource
	var ambiguous []Ambiguity
	for _, dep := range deps {
		version := dep.Constraint.Version
		if v, ok := resolved[dep.Name]; ok {
			version = v
		}
		matches := b.Stores.GetArtifactByNameAndVersion(string(dep.Name), string(version))
		if len(matches) == 0 {
			return nil, nil, &MissingDependency{Name: dep.Name, Version: version}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
		chosen := matches[0]
		if len(matches) > 1 {
			amb := Ambiguity{Name: dep.Name, Version: version, Candidates: matches, Chosen: chosen}
			ambiguous = append(ambiguous, amb)
			if b.Warn != nil {
				b.Warn.Warnf("found more than one dependency matching %s=%s", dep.Name, version)
				b.Warn.Warnf("using: %s", chosen.Path)
				b.Warn.Warnf("please investigate, this might be a bug")
			}
		}
		resources = append(resources, Resource{Kind: ResourceArtifact, Artifact: chosen})
	}
	return resources, ambiguous, nil
}
