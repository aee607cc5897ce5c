package recipe

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// EnvEntry is one literal environment variable declared on a Package,
// in the order it was written in the recipe file — the JobEnv join in
// spec.md §3 preserves this insertion order, which a bare Go map cannot.
type EnvEntry struct {
	Name  string
	Value string
}

// Package is an immutable recipe loaded from the repository: identity,
// source location, dependency sets, build phases, and image filters.
type Package struct {
	Name       PackageName
	Version    PackageVersion
	SourceURL  string
	SourceHash string

	BuildDependencies   []Dependency
	RuntimeDependencies []Dependency

	Phases []string
	Flags  []string

	AllowedImages []string
	DeniedImages  []string

	Envs []EnvEntry
}

// EnvsMap collapses Envs into a lookup map for template substitution, where
// insertion order no longer matters (text/template sorts map keys on range).
func (p Package) EnvsMap() map[string]string {
	m := make(map[string]string, len(p.Envs))
	for _, e := range p.Envs {
		m[e.Name] = e.Value
	}
	return m
}

// manifest mirrors the on-disk YAML shape of one recipe file. Field names
// match the recipe file's keys; Package is the type the rest of the system
// consumes once dependency specifiers have been parsed. Envs is a MapSlice,
// not a map, so the recipe file's declaration order survives into Package.Envs.
type manifest struct {
	Name          string        `yaml:"name"`
	Version       string        `yaml:"version"`
	Source        string        `yaml:"source"`
	SourceHash    string        `yaml:"source_hash"`
	BuildDeps     []string      `yaml:"build_dependencies"`
	RuntimeDeps   []string      `yaml:"runtime_dependencies"`
	Phases        []string      `yaml:"phases"`
	Flags         []string      `yaml:"flags"`
	AllowedImages []string      `yaml:"allowed_images"`
	DeniedImages  []string      `yaml:"denied_images"`
	Envs          yaml.MapSlice `yaml:"envs"`
}

func (m *manifest) toPackage() (Package, error) {
	p := Package{
		Name:          PackageName(m.Name),
		Version:       PackageVersion(m.Version),
		SourceURL:     m.Source,
		SourceHash:    m.SourceHash,
		Phases:        m.Phases,
		Flags:         m.Flags,
		AllowedImages: m.AllowedImages,
		DeniedImages:  m.DeniedImages,
	}
	for _, item := range m.Envs {
		name, ok := item.Key.(string)
		if !ok {
			return Package{}, fmt.Errorf("recipe: non-string env key %v", item.Key)
		}
		p.Envs = append(p.Envs, EnvEntry{Name: name, Value: fmt.Sprintf("%v", item.Value)})
	}
	for _, spec := range m.BuildDeps {
		dep, err := ParseDependency(spec, Build)
		if err != nil {
			return Package{}, err
		}
		p.BuildDependencies = append(p.BuildDependencies, dep)
	}
	for _, spec := range m.RuntimeDeps {
		dep, err := ParseDependency(spec, Runtime)
		if err != nil {
			return Package{}, err
		}
		p.RuntimeDependencies = append(p.RuntimeDependencies, dep)
	}
	return p, nil
}

// AllDependencies returns build dependencies followed by runtime
// dependencies, the merged order the tree builder walks.
func (p Package) AllDependencies() []Dependency {
	out := make([]Dependency, 0, len(p.BuildDependencies)+len(p.RuntimeDependencies))
	out = append(out, p.BuildDependencies...)
	out = append(out, p.RuntimeDependencies...)
	return out
}

// Less orders packages by name then version string, the tie-break order
// used to make ambiguous-candidate resolution deterministic.
func (p Package) Less(other Package) bool {
	if p.Name != other.Name {
		return p.Name < other.Name
	}
	return p.Version < other.Version
}
