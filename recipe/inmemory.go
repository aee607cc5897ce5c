package recipe

// NewInMemoryRepository builds a Repository directly from already-parsed
// packages, bypassing disk loading. Used by tests and by any caller that
// already has Package values in hand (e.g. a synthetic single-package
// build requested entirely via CLI flags).
func NewInMemoryRepository(pkgs []Package) *Repository {
	repo := &Repository{byKey: make(map[key]Package)}
	for _, p := range pkgs {
		k := key{p.Name, p.Version}
		repo.byKey[k] = p
		repo.all = append(repo.all, p)
	}
	return repo
}
