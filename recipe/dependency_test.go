package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDependency(t *testing.T) {
	cases := []struct {
		spec    string
		wantOp  Operator
		wantVer PackageVersion
	}{
		{"b =2", OpEq, "2"},
		{"openssl>=1.1.1", OpGte, "1.1.1"},
		{"foo ~> 1.2", OpTilde, "1.2"},
	}
	for _, tc := range cases {
		dep, err := ParseDependency(tc.spec, Build)
		require.NoError(t, err, "ParseDependency(%q)", tc.spec)
		assert.Equal(t, tc.wantOp, dep.Constraint.Op, "operator for %q", tc.spec)
		assert.Equal(t, tc.wantVer, dep.Constraint.Version, "version for %q", tc.spec)
	}
}

func TestParseDependencyInvalid(t *testing.T) {
	_, err := ParseDependency("not-a-spec", Build)
	assert.Error(t, err, "expected error for malformed specifier")
}

func TestConstraintSatisfies(t *testing.T) {
	c := Constraint{Op: OpGte, Version: "1.2.0"}
	assert.True(t, c.Satisfies("1.10.0"), "1.10.0 should satisfy >=1.2.0 under numeric component comparison")
	assert.False(t, c.Satisfies("1.1.9"), "1.1.9 should not satisfy >=1.2.0")
}

func TestConstraintTilde(t *testing.T) {
	c := Constraint{Op: OpTilde, Version: "2.0"}
	assert.True(t, c.Satisfies("2.5"), "2.5 should satisfy ~>2.0")
	assert.False(t, c.Satisfies("3.0"), "3.0 should not satisfy ~>2.0, different major")
}
