package job

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildorch/butido/filestore"
	"github.com/buildorch/butido/recipe"
	"github.com/buildorch/butido/script"
	"github.com/buildorch/butido/source"
)

func newTestStores(t *testing.T) *filestore.MergedStores {
	t.Helper()
	staging, err := filestore.NewStagingStore(t.TempDir())
	require.NoError(t, err)
	return &filestore.MergedStores{Staging: staging}
}

// writeArtifact ingests a single-file TAR stream into the staging store,
// the same path production code uses, so the store's index matches reality.
func writeArtifact(t *testing.T, stores *filestore.MergedStores, relPath, content string) {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(&tar.Header{Name: relPath, Mode: 0o644, Size: int64(len(content))}))
	_, err := w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = stores.Staging.WriteFilesFromTarStream(&buf, "job-producing")
	require.NoError(t, err)
}

func newTestBuilder(t *testing.T, stores *filestore.MergedStores) *Builder {
	t.Helper()
	srcCache, err := source.NewCache(t.TempDir())
	require.NoError(t, err)
	return &Builder{
		ScriptBuilder: script.NewBuilder("#!/bin/sh", map[string]string{
			"build": "echo building {{.Name}}-{{.Version}}",
		}),
		Stores:      stores,
		SourceCache: srcCache,
	}
}

func TestBuildResourceOrderingBuildThenRuntime(t *testing.T) {
	stores := newTestStores(t)
	writeArtifact(t, stores, "b-1.tar.gz", "b-contents")
	writeArtifact(t, stores, "c-1.tar.gz", "c-contents")

	bdep, err := recipe.ParseDependency("b=1", recipe.Build)
	require.NoError(t, err)
	rdep, err := recipe.ParseDependency("c=1", recipe.Runtime)
	require.NoError(t, err)

	pkg := recipe.Package{
		Name:                "a",
		Version:             "1",
		Phases:              []string{"build"},
		BuildDependencies:   []recipe.Dependency{bdep},
		RuntimeDependencies: []recipe.Dependency{rdep},
	}

	b := newTestBuilder(t, stores)
	rj, err := b.Build(pkg, "img:1", nil)
	require.NoError(t, err)
	require.Len(t, rj.Resources, 2)
	assert.Equal(t, "b-1.tar.gz", rj.Resources[0].Artifact.Path, "build resource precedes runtime resource")
	assert.Equal(t, "c-1.tar.gz", rj.Resources[1].Artifact.Path)
}

func TestBuildEnvVarsPreserveDeclarationOrder(t *testing.T) {
	stores := newTestStores(t)
	pkg := recipe.Package{
		Name:    "a",
		Version: "1",
		Phases:  []string{"build"},
		Envs: []recipe.EnvEntry{
			{Name: "ZEBRA", Value: "1"},
			{Name: "ALPHA", Value: "2"},
		},
	}

	b := newTestBuilder(t, stores)
	rj, err := b.Build(pkg, "img:1", nil)
	require.NoError(t, err)
	require.Len(t, rj.EnvVars, 2)
	assert.Equal(t, "ZEBRA", rj.EnvVars[0].EnvName, "env vars keep declaration order, not alphabetical")
	assert.Equal(t, "ALPHA", rj.EnvVars[1].EnvName)
	assert.Empty(t, rj.Resources, "env vars never appear in Resources: its length is build+runtime deps only")
}

func TestBuildResolvesAgainstTreeVersionNotConstraintText(t *testing.T) {
	stores := newTestStores(t)
	writeArtifact(t, stores, "b-1.3.tar.gz", "b-contents")

	bdep, err := recipe.ParseDependency("b>=1.0", recipe.Build)
	require.NoError(t, err)
	pkg := recipe.Package{Name: "a", Version: "1", Phases: []string{"build"}, BuildDependencies: []recipe.Dependency{bdep}}

	b := newTestBuilder(t, stores)
	resolved := map[recipe.PackageName]recipe.PackageVersion{"b": "1.3"}
	rj, err := b.Build(pkg, "img:1", resolved)
	require.NoError(t, err, "must look up the tree-resolved version (1.3), not the literal constraint text (1.0)")
	require.Len(t, rj.Resources, 1)
	assert.Equal(t, "b-1.3.tar.gz", rj.Resources[0].Artifact.Path)
}

func TestBuildMissingDependencyFails(t *testing.T) {
	stores := newTestStores(t)
	bdep, err := recipe.ParseDependency("missing=1", recipe.Build)
	require.NoError(t, err)
	pkg := recipe.Package{Name: "a", Version: "1", Phases: []string{"build"}, BuildDependencies: []recipe.Dependency{bdep}}

	b := newTestBuilder(t, stores)
	_, err = b.Build(pkg, "img:1", nil)
	require.Error(t, err)
	assert.IsType(t, &MissingDependency{}, err)
}

func TestStageIntoCopiesArtifactsUnderDeps(t *testing.T) {
	stores := newTestStores(t)
	writeArtifact(t, stores, "b-1.tar.gz", "b-contents")

	bdep, err := recipe.ParseDependency("b=1", recipe.Build)
	require.NoError(t, err)
	pkg := recipe.Package{Name: "a", Version: "1", Phases: []string{"build"}, BuildDependencies: []recipe.Dependency{bdep}}

	b := newTestBuilder(t, stores)
	rj, err := b.Build(pkg, "img:1", nil)
	require.NoError(t, err)

	destRoot := t.TempDir()
	require.NoError(t, rj.StageInto(stores, destRoot))

	staged, err := os.ReadFile(filepath.Join(destRoot, "deps", "b-1.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "b-contents", string(staged))
}
