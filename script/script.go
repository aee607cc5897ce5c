// Package script renders a package's build script from a shebang and an
// ordered list of phase fragments, substituting package metadata into
// templated fragments.
package script

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/buildorch/butido/recipe"
)

// UnknownPhase is returned when a Package references a phase the builder
// was not given a fragment for.
type UnknownPhase struct {
	Name string
}

func (e *UnknownPhase) Error() string {
	return fmt.Sprintf("script: package references unknown phase %q", e.Name)
}

// TemplateError wraps a fragment substitution failure.
type TemplateError struct {
	Phase  string
	Detail string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("script: rendering phase %q: %s", e.Phase, e.Detail)
}

// Script is the fully rendered shell text for one package.
type Script struct {
	Text string
}

// Builder renders deterministic scripts from a shebang and a registry of
// named phase fragments. It has no side effects: Build is a pure function
// of its inputs.
type Builder struct {
	Shebang string
	Phases  map[string]string // phase name -> text/template source
}

// NewBuilder constructs a Builder with the given shebang and phase registry.
func NewBuilder(shebang string, phases map[string]string) *Builder {
	return &Builder{Shebang: shebang, Phases: phases}
}

// templateData is the substitution context exposed to phase fragments.
type templateData struct {
	Name       string
	Version    string
	SourceURL  string
	SourceHash string
	Flags      []string
	Envs       map[string]string
}

// Build renders pkg's script: the shebang first, then each of pkg.Phases in
// order, separated by a single blank line, with metadata substituted into
// templated fragments.
func (b *Builder) Build(pkg recipe.Package) (Script, error) {
	var out bytes.Buffer
	out.WriteString(b.Shebang)
	out.WriteString("\n")

	data := templateData{
		Name:       string(pkg.Name),
		Version:    string(pkg.Version),
		SourceURL:  pkg.SourceURL,
		SourceHash: pkg.SourceHash,
		Flags:      pkg.Flags,
		Envs:       pkg.EnvsMap(),
	}

	for _, phase := range pkg.Phases {
		fragment, ok := b.Phases[phase]
		if !ok {
			return Script{}, &UnknownPhase{Name: phase}
		}
		tmpl, err := template.New(phase).Parse(fragment)
		if err != nil {
			return Script{}, &TemplateError{Phase: phase, Detail: err.Error()}
		}
		out.WriteString("\n")
		if err := tmpl.Execute(&out, data); err != nil {
			return Script{}, &TemplateError{Phase: phase, Detail: err.Error()}
		}
		out.WriteString("\n")
	}

	return Script{Text: normalizeBlankLines(out.String())}, nil
}

func normalizeBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
