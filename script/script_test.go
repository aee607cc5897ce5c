package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildorch/butido/recipe"
)

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder("#!/bin/sh", map[string]string{
		"fetch":   "curl -LO {{.SourceURL}}",
		"build":   "make -j$(nproc) PKG={{.Name}}-{{.Version}}",
		"install": "make install",
	})
	pkg := recipe.Package{
		Name:      "foo",
		Version:   "1.0",
		SourceURL: "https://example.invalid/foo.tar.gz",
		Phases:    []string{"fetch", "build", "install"},
	}

	s1, err := b.Build(pkg)
	require.NoError(t, err)
	s2, err := b.Build(pkg)
	require.NoError(t, err)
	assert.Equal(t, s1.Text, s2.Text, "expected identical script bytes for identical input")
	assert.True(t, len(s1.Text) >= len("#!/bin/sh") && s1.Text[:len("#!/bin/sh")] == "#!/bin/sh", "expected shebang first")
}

func TestBuildUnknownPhase(t *testing.T) {
	b := NewBuilder("#!/bin/sh", map[string]string{"fetch": "echo fetch"})
	pkg := recipe.Package{Name: "foo", Version: "1.0", Phases: []string{"nonexistent"}}
	_, err := b.Build(pkg)
	require.Error(t, err, "expected UnknownPhase error")
	assert.IsType(t, &UnknownPhase{}, err)
}

func TestBuildTemplateError(t *testing.T) {
	b := NewBuilder("#!/bin/sh", map[string]string{"bad": "{{.NoSuchField}}"})
	pkg := recipe.Package{Name: "foo", Version: "1.0", Phases: []string{"bad"}}
	_, err := b.Build(pkg)
	require.Error(t, err, "expected TemplateError")
	assert.IsType(t, &TemplateError{}, err)
}
