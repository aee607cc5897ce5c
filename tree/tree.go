// Package tree builds the transitive dependency graph rooted at a target
// package. Unlike the recursive owning-map the original implementation used,
// nodes live in a single flat table indexed by NodeId with child-index
// ranges, so the scheduler can walk topology without chasing owning
// references.
package tree

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/buildorch/butido/recipe"
)

// NodeId indexes a node in a Tree's flat table. The root is always NodeId 0.
type NodeId int

// Node is one resolved package plus the NodeIds of its direct dependency
// subtrees, in dependency order (build dependencies first).
type Node struct {
	Package  recipe.Package
	Children []NodeId
	Parent   NodeId
	HasParent bool
}

// DuplicatePackage reports that two subtrees selected different versions of
// the same package name, a structural conflict the builder refuses to
// resolve silently.
type DuplicatePackage struct {
	Name     recipe.PackageName
	Versions []recipe.PackageVersion
}

func (e *DuplicatePackage) Error() string {
	vs := make([]string, len(e.Versions))
	for i, v := range e.Versions {
		vs[i] = string(v)
	}
	return fmt.Sprintf("tree: duplicate version of package %q found: %s", e.Name, strings.Join(vs, ", "))
}

// MissingDependency reports that no package in the repository satisfies a
// dependency's constraint.
type MissingDependency struct {
	Name       recipe.PackageName
	Constraint recipe.Constraint
}

func (e *MissingDependency) Error() string {
	return fmt.Sprintf("tree: no package satisfies %s %v %s", e.Name, e.Constraint.Op, e.Constraint.Version)
}

// ProgressTicker is ticked once per dependency-resolution step while a Tree
// is being built. It is satisfied by dispatch.ProgressSink among others.
type ProgressTicker interface {
	Tick()
}

type noopTicker struct{}

func (noopTicker) Tick() {}

// Tree is a rooted structure of packages, one node per distinct package
// name. A name resolving to the same version it already resolved to
// elsewhere in the tree reuses that existing node as an additional child
// (a shared subtree, e.g. a diamond dependency), rather than erroring or
// duplicating the node; Children therefore makes Tree a DAG, not strictly
// a tree. Only a *version* conflict on a repeated name is rejected
// (DuplicatePackage). A cycle in the recipe set manifests as a shared
// back-edge under this scheme rather than a build error — recipes are
// expected not to declare one.
type Tree struct {
	nodes     []Node
	byName    map[recipe.PackageName]NodeId
}

// Build resolves the transitive build+runtime dependency graph rooted at
// root against repo, reporting progress on ticker (pass nil to disable).
func Build(repo *recipe.Repository, root recipe.Package, ticker ProgressTicker) (*Tree, error) {
	if ticker == nil {
		ticker = noopTicker{}
	}
	t := &Tree{byName: make(map[recipe.PackageName]NodeId)}
	rootID := t.addNode(root, -1, false)
	t.byName[root.Name] = rootID
	if err := t.resolveChildren(repo, rootID, ticker); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) addNode(p recipe.Package, parent int, hasParent bool) NodeId {
	id := NodeId(len(t.nodes))
	n := Node{Package: p}
	if hasParent {
		n.Parent = NodeId(parent)
		n.HasParent = true
	}
	t.nodes = append(t.nodes, n)
	return id
}

func (t *Tree) resolveChildren(repo *recipe.Repository, parent NodeId, ticker ProgressTicker) error {
	pkg := t.nodes[parent].Package
	for _, dep := range pkg.AllDependencies() {
		ticker.Tick()
		candidates := repo.FindWithVersionConstraint(dep.Name, dep.Constraint)
		if len(candidates) == 0 {
			return &MissingDependency{Name: dep.Name, Constraint: dep.Constraint}
		}
		chosen := candidates[0]

		if existing, ok := t.byName[dep.Name]; ok {
			if t.nodes[existing].Package.Version != chosen.Version {
				return &DuplicatePackage{
					Name:     dep.Name,
					Versions: []recipe.PackageVersion{t.nodes[existing].Package.Version, chosen.Version},
				}
			}
			// Same name, same version: share the existing subtree rather
			// than re-resolving it (and re-erroring a DAG into a tree).
			t.nodes[parent].Children = append(t.nodes[parent].Children, existing)
			continue
		}

		childID := t.addNode(chosen, int(parent), true)
		t.byName[dep.Name] = childID
		t.nodes[parent].Children = append(t.nodes[parent].Children, childID)
		if err := t.resolveChildren(repo, childID, ticker); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the NodeId of the tree's root, always 0 for a non-empty tree.
func (t *Tree) Root() NodeId { return 0 }

// Node returns the node stored at id.
func (t *Tree) Node(id NodeId) Node { return t.nodes[id] }

// Len returns the total number of nodes in the tree (including the root).
func (t *Tree) Len() int { return len(t.nodes) }

// Packages returns the immediate children of id.
func (t *Tree) Packages(id NodeId) []recipe.Package {
	out := make([]recipe.Package, 0, len(t.nodes[id].Children))
	for _, c := range t.nodes[id].Children {
		out = append(out, t.nodes[c].Package)
	}
	return out
}

// Dependencies returns the NodeIds of id's child subtrees.
func (t *Tree) Dependencies(id NodeId) []NodeId {
	out := make([]NodeId, len(t.nodes[id].Children))
	copy(out, t.nodes[id].Children)
	return out
}

// HasPackage reports whether name appears anywhere in the tree.
func (t *Tree) HasPackage(name recipe.PackageName) bool {
	_, ok := t.byName[name]
	return ok
}

// PackageDepth returns the first occurrence's depth (root is 0), in BFS
// order, or false if name does not appear.
func (t *Tree) PackageDepth(name recipe.PackageName) (int, bool) {
	return t.PackageDepthWhere(func(p recipe.Package) bool { return p.Name == name })
}

// PackageDepthWhere returns the depth of the first node (BFS order)
// satisfying match.
func (t *Tree) PackageDepthWhere(match func(recipe.Package) bool) (int, bool) {
	type queued struct {
		id    NodeId
		depth int
	}
	queue := []queued{{t.Root(), 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if match(t.nodes[cur.id].Package) {
			return cur.depth, true
		}
		for _, c := range t.nodes[cur.id].Children {
			queue = append(queue, queued{c, cur.depth + 1})
		}
	}
	return 0, false
}

// TopologicalOrder returns NodeIds in dependency-first (leaves first) order,
// suitable for the Dispatcher's bottom-up scheduling walk.
func (t *Tree) TopologicalOrder() []NodeId {
	var order []NodeId
	visited := make(map[NodeId]bool)
	var visit func(NodeId)
	visit = func(id NodeId) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, c := range t.nodes[id].Children {
			visit(c)
		}
		order = append(order, id)
	}
	visit(t.Root())
	return order
}

// DebugPrint writes an indented recursive dump of the tree to w.
func (t *Tree) DebugPrint(w io.Writer) {
	t.debugPrintNode(w, t.Root(), 0)
}

func (t *Tree) debugPrintNode(w io.Writer, id NodeId, depth int) {
	n := t.nodes[id]
	fmt.Fprintf(w, "%s%s=%s\n", strings.Repeat("  ", depth), n.Package.Name, n.Package.Version)
	children := append([]NodeId(nil), n.Children...)
	sort.Slice(children, func(i, j int) bool {
		return t.nodes[children[i]].Package.Less(t.nodes[children[j]].Package)
	})
	for _, c := range children {
		t.debugPrintNode(w, c, depth+1)
	}
}
