package recipe

// Edge is one dependency relationship surfaced by WhatDependsOn/DependsOn:
// from depends on to (directly), through a build or runtime dependency.
type Edge struct {
	From PackageName
	To   PackageName
	Kind DependencyKind
}

// DependsOn returns every package pkg directly or transitively depends on
// (the "forward" direction of `what-depends`), walking build dependencies
// before runtime dependencies at each level and stopping on a name already
// visited to tolerate diamonds without looping.
func DependsOn(repo *Repository, pkg Package) []Edge {
	var out []Edge
	visited := map[PackageName]bool{pkg.Name: true}
	queue := []Package{pkg}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range cur.AllDependencies() {
			candidates := repo.FindWithVersionConstraint(dep.Name, dep.Constraint)
			if len(candidates) == 0 {
				continue
			}
			out = append(out, Edge{From: cur.Name, To: dep.Name, Kind: dep.Kind})
			if visited[dep.Name] {
				continue
			}
			visited[dep.Name] = true
			queue = append(queue, candidates[0])
		}
	}
	return out
}

// WhatDependsOn returns every package in repo that directly or
// transitively depends on name (the "reverse" direction of
// `what-depends`), by scanning every package's dependency list for a match
// and following the reverse edge outward.
func WhatDependsOn(repo *Repository, name PackageName) []Edge {
	var out []Edge
	visited := map[PackageName]bool{name: true}
	frontier := []PackageName{name}

	for len(frontier) > 0 {
		target := frontier[0]
		frontier = frontier[1:]
		for _, p := range repo.Packages() {
			for _, dep := range p.AllDependencies() {
				if dep.Name != target {
					continue
				}
				out = append(out, Edge{From: p.Name, To: target, Kind: dep.Kind})
				if !visited[p.Name] {
					visited[p.Name] = true
					frontier = append(frontier, p.Name)
				}
			}
		}
	}
	return out
}
