package tree

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildorch/butido/recipe"
)

func pkg(name, version string, deps ...recipe.Dependency) recipe.Package {
	return recipe.Package{Name: recipe.PackageName(name), Version: recipe.PackageVersion(version), RuntimeDependencies: deps}
}

func dep(t *testing.T, spec string) recipe.Dependency {
	t.Helper()
	d, err := recipe.ParseDependency(spec, recipe.Runtime)
	require.NoError(t, err, "dep(%q)", spec)
	return d
}

func repoOf(pkgs ...recipe.Package) *recipe.Repository {
	// NewRepository only loads from disk; tests build the in-memory
	// equivalent via FindWithVersionConstraint's exported surface by
	// constructing a Repository through its loader-visible fields is not
	// possible from this package, so tests go through a tiny seam.
	return recipe.NewInMemoryRepository(pkgs)
}

func TestAddSinglePackage(t *testing.T) {
	p1 := pkg("p1", "1")
	repo := repoOf(p1)
	tr, err := Build(repo, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Len())
	assert.True(t, tr.HasPackage("p1"), "expected root package present")
}

func TestAddTwoDependentPackages(t *testing.T) {
	p2 := pkg("p2", "1")
	p1 := pkg("p1", "1", dep(t, "p2=1"))
	repo := repoOf(p1, p2)
	tr, err := Build(repo, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Len())
	depth, ok := tr.PackageDepth("p2")
	assert.True(t, ok)
	assert.Equal(t, 1, depth, "expected p2 at depth 1")
}

func TestDeepPackageTree(t *testing.T) {
	p3 := pkg("p3", "1")
	p2 := pkg("p2", "1", dep(t, "p3=1"))
	p5 := pkg("p5", "1")
	p6 := pkg("p6", "1")
	p4 := pkg("p4", "1", dep(t, "p5=1"), dep(t, "p6=1"))
	p1 := pkg("p1", "1", dep(t, "p2=1"), dep(t, "p4=1"))
	repo := repoOf(p1, p2, p3, p4, p5, p6)

	tr, err := Build(repo, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, tr.Len())
	for _, name := range []recipe.PackageName{"p2", "p3", "p4", "p5", "p6"} {
		assert.Truef(t, tr.HasPackage(name), "expected %s present", name)
	}
}

func TestDeepTreeIgnoresIrrelevantDecoys(t *testing.T) {
	p3 := pkg("p3", "1")
	p2 := pkg("p2", "1", dep(t, "p3=1"))
	p1 := pkg("p1", "1", dep(t, "p2=1"))
	decoy := pkg("p2", "99") // same name, different version, never referenced
	repo := repoOf(p1, p2, p3, decoy)

	tr, err := Build(repo, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Len(), "expected decoy ignored")
}

func TestDuplicatePackageConflict(t *testing.T) {
	b1 := pkg("b", "1")
	b2 := pkg("b", "2")
	c := pkg("c", "1", dep(t, "b=2"))
	a := pkg("a", "1", dep(t, "b=1"), dep(t, "c=1"))
	repo := repoOf(a, b1, b2, c)

	_, err := Build(repo, a, nil)
	require.Error(t, err, "expected DuplicatePackage error")
	var dup *DuplicatePackage
	require.True(t, errors.As(err, &dup), "expected *DuplicatePackage, got %T: %v", err, err)
	assert.Equal(t, recipe.PackageName("b"), dup.Name)
}

func TestDebugPrint(t *testing.T) {
	p2 := pkg("p2", "1")
	p1 := pkg("p1", "1", dep(t, "p2=1"))
	repo := repoOf(p1, p2)
	tr, err := Build(repo, p1, nil)
	require.NoError(t, err)
	var buf strings.Builder
	tr.DebugPrint(&buf)
	assert.NotEmpty(t, buf.String(), "expected non-empty debug dump")
}
