package pkgcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/errors"
)

func TestConsistent(t *testing.T) {
	tests := []struct {
		dir  string
		pkg  string
		want bool
	}{
		{"/src/a/b", "a.b", true},
		{"src/main/java/com/acme", "com.acme", true},
		{"a/b/", "a.b", true},
		{"/src", "", true},
		{"x/y/z", "a.b", false},
		{"b", "a.b", false},
		{"/src/a/c", "a.b", false},
		{"a/b", "b", true},
	}
	for _, tt := range tests {
		t.Run(tt.dir+"|"+tt.pkg, func(t *testing.T) {
			assert.Equal(t, tt.want, Consistent(tt.dir, tt.pkg))
		})
	}
}

func TestChecker_CollectsAcrossRound(t *testing.T) {
	c := NewChecker()
	c.UnitCompleted(&compiler.Unit{Name: "a.b.C", Package: "a.b", Source: "x/y/z/C.java"})
	c.UnitCompleted(&compiler.Unit{Name: "a.b.D", Package: "a.b", Source: "x/y/z/D.java"})
	c.UnitCompleted(&compiler.Unit{Name: "ok.E", Package: "ok", Source: "src/ok/E.java"})
	c.UnitCompleted(&compiler.Unit{Name: "lib.L", Package: "lib", Source: "/jar/L.class", Origin: compiler.OriginLibrary})
	c.CompilationCompleted()

	require.Equal(t, []errors.Mismatch{{Directory: "x/y/z", Package: "a.b"}}, c.Violations())

	err := c.Err()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConsistency))
	be, _ := errors.As(err)
	assert.Equal(t, "x/y/z vs a.b", be.Context["mismatches"])
}

func TestChecker_NoViolations(t *testing.T) {
	c := NewChecker()
	c.UnitCompleted(&compiler.Unit{Name: "Main", Source: "anywhere/Main.java"})
	assert.NoError(t, c.Err())
}
