package driver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/testcompiler"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

func setup(t *testing.T) (*testcompiler.Tree, *testcompiler.Compiler, *Driver, string) {
	t.Helper()
	tree := testcompiler.NewTree(t.TempDir())
	tc := testcompiler.New()
	return tree, tc, New(tc, nil), t.TempDir()
}

func TestDriver_CompileCollectsEverything(t *testing.T) {
	tree, tc, d, dest := setup(t)
	a := tree.Write(t, "a/A.toy", "package a\nclass public A\nmethod public int value()\nuses java.util.List\n")
	b := tree.Write(t, "b/B.toy", "package b\nclass public B\nuses a.A\nnative\n")

	res := d.Compile(t.Context(), Request{
		ID:       "r1",
		Explicit: []string{a, b},
		Linkable: []string{a, b},
		InTree:   sets.New("a", "b"),
		DestDir:  dest,
	})

	require.Equal(t, OutcomeSuccess, res.Outcome, "diagnostics: %v", res.Diagnostics)
	assert.NoError(t, res.Err)
	assert.Equal(t, [][]string{{a, b}}, tc.Calls())

	assert.Equal(t, map[string]map[string]buildstate.EdgeKind{
		"a": {"java.util": buildstate.EdgeExternal},
		"b": {"a": buildstate.EdgeInTree},
	}, res.Dependencies)

	require.Contains(t, res.APIs, "a")
	assert.Contains(t, res.APIs["a"]["a.A"], "method public int value()")

	require.Contains(t, res.Artifacts, "b")
	assert.True(t, res.Artifacts["b"].Has(filepath.Join(dest, "b", "B.class")))
	assert.True(t, res.Artifacts["b"].Has(filepath.Join(dest, "include", "b_B.h")))
}

func TestDriver_NothingToCompile(t *testing.T) {
	_, tc, d, dest := setup(t)
	res := d.Compile(t.Context(), Request{DestDir: dest})
	assert.Equal(t, OutcomeNothingToCompile, res.Outcome)
	assert.True(t, res.Failed())
	assert.Empty(t, tc.Calls(), "collaborator must not be invoked")
}

func TestDriver_HiddenSourceIsNotFound(t *testing.T) {
	tree, _, d, dest := setup(t)
	a := tree.Write(t, "a/A.toy", "package a\nclass public A\n")
	b := tree.Write(t, "b/B.toy", "package b\nclass public B\nuses a.A\n")

	res := d.Compile(t.Context(), Request{Explicit: []string{b}, Linkable: []string{b}, DestDir: dest})
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.IsCategory(res.Err, errors.CategoryCompiler))

	res = d.Compile(t.Context(), Request{Explicit: []string{b}, Linkable: []string{a, b}, DestDir: dest})
	assert.Equal(t, OutcomeSuccess, res.Outcome, "diagnostics: %v", res.Diagnostics)
}

func TestDriver_PackageMismatchFailsRound(t *testing.T) {
	tree, _, d, dest := setup(t)
	src := tree.Write(t, "x/y/z/C.toy", "package a.b\nclass public C\n")

	res := d.Compile(t.Context(), Request{Explicit: []string{src}, Linkable: []string{src}, DestDir: dest})

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.IsCategory(res.Err, errors.CategoryConsistency))
	be, _ := errors.As(res.Err)
	assert.Contains(t, be.Context["mismatches"], "x/y/z vs a.b")
}

func TestDriver_CapturesCollaboratorFailures(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		timeout time.Duration
	}{
		{"error diagnostic", "package a\nclass public A\nerror boom\n", 0},
		{"panic", "package a\nclass public A\npanic\n", 0},
		{"timeout", "package a\nclass public A\nhang\n", 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, _, d, dest := setup(t)
			src := tree.Write(t, "a/A.toy", tt.source)
			ctx := t.Context()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			var res *Result
			require.NotPanics(t, func() {
				res = d.Compile(ctx, Request{Explicit: []string{src}, Linkable: []string{src}, DestDir: dest})
			})
			require.NotNil(t, res)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Error(t, res.Err)
			assert.NotEmpty(t, res.Diagnostics)
		})
	}
}

type orderListener struct {
	name string
	log  *[]string
}

func (o orderListener) UnitCompleted(*compiler.Unit) { *o.log = append(*o.log, o.name) }
func (o orderListener) CompilationCompleted()        { *o.log = append(*o.log, o.name+":done") }

func TestListeners_FixedOrder(t *testing.T) {
	var log []string
	ls := listeners{orderListener{"api", &log}, orderListener{"deps", &log}, orderListener{"check", &log}}
	ls.UnitCompleted(&compiler.Unit{Name: "a.A"})
	ls.CompilationCompleted()
	assert.Equal(t, []string{"api", "deps", "check", "api:done", "deps:done", "check:done"}, log)
}
