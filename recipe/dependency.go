package recipe

import (
	"fmt"
	"regexp"
	"strings"
)

// DependencyKind distinguishes build-time from runtime dependencies. A build
// dependency supplies inputs to the container; a runtime dependency is
// recorded for downstream installs but does not affect container contents.
type DependencyKind int

const (
	// Build dependencies are resolved into the container build context.
	Build DependencyKind = iota
	// Runtime dependencies are recorded but not mounted into the container.
	Runtime
)

func (k DependencyKind) String() string {
	if k == Build {
		return "build"
	}
	return "runtime"
}

// Operator is a version-constraint comparator.
type Operator int

const (
	OpEq Operator = iota
	OpGte
	OpLte
	OpGt
	OpLt
	OpTilde // "~>", pessimistic: same major, >= given version
)

// Constraint restricts candidate versions of a named dependency.
type Constraint struct {
	Op      Operator
	Version PackageVersion
}

// Dependency is a parsed textual specifier: a package name plus a version
// constraint, tagged as a build or runtime dependency.
type Dependency struct {
	Name       PackageName
	Constraint Constraint
	Kind       DependencyKind
}

var specRegexp = regexp.MustCompile(`^\s*([A-Za-z0-9_.\-]+)\s*(=|>=|<=|>|<|~>)\s*([A-Za-z0-9_.\-]+)\s*$`)

// ParseDependency parses a specifier of the form "name OP version", e.g.
// "b =2" or "openssl>=1.1.1". Whitespace around the operator is optional.
func ParseDependency(spec string, kind DependencyKind) (Dependency, error) {
	m := specRegexp.FindStringSubmatch(spec)
	if m == nil {
		return Dependency{}, fmt.Errorf("recipe: invalid dependency specifier %q", spec)
	}
	op, err := parseOperator(m[2])
	if err != nil {
		return Dependency{}, err
	}
	return Dependency{
		Name:       PackageName(m[1]),
		Constraint: Constraint{Op: op, Version: PackageVersion(m[3])},
		Kind:       kind,
	}, nil
}

func parseOperator(s string) (Operator, error) {
	switch s {
	case "=":
		return OpEq, nil
	case ">=":
		return OpGte, nil
	case "<=":
		return OpLte, nil
	case ">":
		return OpGt, nil
	case "<":
		return OpLt, nil
	case "~>":
		return OpTilde, nil
	default:
		return 0, fmt.Errorf("recipe: unknown constraint operator %q", s)
	}
}

// Satisfies reports whether candidate satisfies the constraint. Versions are
// compared component-wise as dot-separated integers where possible, falling
// back to a lexical comparison for non-numeric components.
func (c Constraint) Satisfies(candidate PackageVersion) bool {
	cmp := compareVersions(string(candidate), string(c.Version))
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpGte:
		return cmp >= 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpLt:
		return cmp < 0
	case OpTilde:
		return cmp >= 0 && sameMajor(string(candidate), string(c.Version))
	default:
		return false
	}
}

func sameMajor(a, b string) bool {
	pa := strings.SplitN(a, ".", 2)
	pb := strings.SplitN(b, ".", 2)
	return pa[0] == pb[0]
}

func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av == bv {
			continue
		}
		an, aerr := atoiStrict(av)
		bn, berr := atoiStrict(bv)
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if av < bv {
			return -1
		}
		return 1
	}
	return 0
}

func atoiStrict(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not numeric")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
