package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// key identifies a package inside a Repository.
type key struct {
	name    PackageName
	version PackageVersion
}

// Repository is a mapping (PackageName, PackageVersion) -> Package, loaded
// from a directory tree of recipe files. Keys are unique; insertion order is
// irrelevant.
type Repository struct {
	byKey map[key]Package
	all   []Package
}

// NewRepository loads every "*.recipe.yml" file under root into an indexed
// catalogue. A later file overwriting an earlier (name, version) pair is a
// load error, since the data model requires unique keys.
func NewRepository(root string) (*Repository, error) {
	repo := &Repository{byKey: make(map[key]Package)}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".recipe.yml") && !strings.HasSuffix(path, ".recipe.yaml") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("recipe: reading %s: %w", path, err)
		}
		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("recipe: parsing %s: %w", path, err)
		}
		pkg, err := m.toPackage()
		if err != nil {
			return fmt.Errorf("recipe: %s: %w", path, err)
		}
		k := key{pkg.Name, pkg.Version}
		if _, exists := repo.byKey[k]; exists {
			return fmt.Errorf("recipe: duplicate package %s=%s defined in %s", pkg.Name, pkg.Version, path)
		}
		repo.byKey[k] = pkg
		repo.all = append(repo.all, pkg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// Packages returns a finite, restartable sequence of every loaded package.
func (r *Repository) Packages() []Package {
	out := make([]Package, len(r.all))
	copy(out, r.all)
	return out
}

// Lookup returns the exact package for (name, version), if loaded.
func (r *Repository) Lookup(name PackageName, version PackageVersion) (Package, bool) {
	p, ok := r.byKey[key{name, version}]
	return p, ok
}

// FindWithVersionConstraint returns every package matching name whose
// version satisfies constraint, sorted deterministically by (name,
// version-string). Constraint evaluation is total: an unsatisfiable
// constraint yields the empty slice, never an error.
func (r *Repository) FindWithVersionConstraint(name PackageName, c Constraint) []Package {
	var matches []Package
	for _, p := range r.all {
		if p.Name != name {
			continue
		}
		if c.Satisfies(p.Version) {
			matches = append(matches, p)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Less(matches[j]) })
	return matches
}
