package build

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/build/queue"
	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/config"
	"git.home.luguber.info/inful/incbuild/internal/driver"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/eventstore"
	"git.home.luguber.info/inful/incbuild/internal/testcompiler"
)

const (
	srcA = "package a\nclass public A\nmethod public void run()\n"
	srcB = "package b\nclass public B\nuses a.A\n"
)

func newService(t *testing.T, opts ...Option) (*Service, *testcompiler.Compiler) {
	t.Helper()
	tc := testcompiler.New()
	pool := queue.New(0, 2, driver.New(tc, nil))
	pool.Start(t.Context())
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	return NewService(pool, opts...), tc
}

func newTarget(t *testing.T, name string, incremental bool) (*config.Target, *testcompiler.Tree) {
	t.Helper()
	tree := testcompiler.NewTree(t.TempDir())
	target := &config.Target{
		Name:        name,
		Destination: t.TempDir(),
		Sources:     []string{tree.Root},
		Extensions:  []string{testcompiler.Extension},
	}
	if incremental {
		target.StateDir = t.TempDir()
	}
	return target, tree
}

func configFor(targets ...*config.Target) *config.Config {
	return &config.Config{
		Targets:   targets,
		Resources: map[string]string{"*": "copy", ".properties": "clean-properties"},
	}
}

func TestStatus_IsSuccess(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusSuccess, true},
		{StatusUpToDate, true},
		{StatusFailed, false},
		{StatusCanceled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsSuccess())
		})
	}
}

func TestCombine(t *testing.T) {
	tr := func(s Status) *TargetResult { return &TargetResult{Status: s} }
	assert.Equal(t, StatusUpToDate, combine([]*TargetResult{tr(StatusUpToDate), tr(StatusUpToDate)}))
	assert.Equal(t, StatusSuccess, combine([]*TargetResult{tr(StatusUpToDate), tr(StatusSuccess)}))
	assert.Equal(t, StatusCanceled, combine([]*TargetResult{tr(StatusCanceled), tr(StatusSuccess)}))
	assert.Equal(t, StatusFailed, combine([]*TargetResult{tr(StatusSuccess), tr(StatusFailed), tr(StatusCanceled)}))
}

func TestService_Run_NilConfig(t *testing.T) {
	svc, _ := newService(t)
	res, err := svc.Run(t.Context(), Request{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfig))
	assert.Equal(t, StatusFailed, res.Status)
}

func TestService_Run_UnknownTarget(t *testing.T) {
	svc, _ := newService(t)
	target, _ := newTarget(t, "main", true)
	_, err := svc.Run(t.Context(), Request{Config: configFor(target), Targets: []string{"other"}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestService_IncrementalTarget(t *testing.T) {
	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, tc := newService(t, WithHistory(eventstore.NewRecorder(store)))
	target, tree := newTarget(t, "main", true)
	tree.Write(t, "a/A.toy", srcA)
	tree.Write(t, "b/B.toy", srcB)
	tree.Write(t, "a/app.properties", "# comment\nname =  demo\n")
	cfg := configFor(target)

	res, err := svc.Run(t.Context(), Request{Config: cfg})
	require.NoError(t, err)
	require.Len(t, res.Targets, 1)
	tr := res.Targets[0]
	assert.Equal(t, StatusSuccess, tr.Status)
	assert.True(t, tr.Incremental)
	assert.Equal(t, 2, tr.Sources)
	assert.Equal(t, 1, tr.Resources)
	assert.Equal(t, []string{"a", "b"}, tr.Compiled)
	assert.FileExists(t, filepath.Join(target.Destination, "a", "A.class"))
	assert.FileExists(t, filepath.Join(target.StateDir, buildstate.FileName))

	props, err := os.ReadFile(filepath.Join(target.Destination, "a", "app.properties"))
	require.NoError(t, err)
	assert.Equal(t, "name=demo\n", string(props))

	tc.Reset()
	res, err = svc.Run(t.Context(), Request{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, res.Status)
	assert.Empty(t, tc.Calls())

	summaries, err := eventstore.Recent(t.Context(), store, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, eventstore.StatusUpToDate, summaries[0].Status)
	assert.Equal(t, eventstore.StatusCommitted, summaries[1].Status)
	assert.Equal(t, "main", summaries[1].Target)
	assert.Equal(t, 1, summaries[1].Rounds)
}

func TestService_StatelessTargetCompilesEverything(t *testing.T) {
	svc, tc := newService(t)
	target, tree := newTarget(t, "main", false)
	tree.Write(t, "a/A.toy", srcA)
	tree.Write(t, "b/B.toy", srcB)
	cfg := configFor(target)

	for range 2 {
		tc.Reset()
		res, err := svc.Run(t.Context(), Request{Config: cfg})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, []string{"a", "b"}, res.Targets[0].Compiled)
		assert.Len(t, tc.Calls(), 1)
	}
	assert.FileExists(t, filepath.Join(target.Destination, "b", "B.class"))
}

func TestService_CompileFailure(t *testing.T) {
	svc, _ := newService(t)
	target, tree := newTarget(t, "main", true)
	tree.Write(t, "a/A.toy", srcA+"error boom\n")

	res, err := svc.Run(t.Context(), Request{Config: configFor(target)})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCompiler))
	assert.Equal(t, StatusFailed, res.Status)
	assert.NotEmpty(t, res.Targets[0].Diagnostics)
	assert.NoFileExists(t, filepath.Join(target.StateDir, buildstate.FileName))
}

func TestService_ExpectedSourcesSafetyNet(t *testing.T) {
	svc, tc := newService(t)
	target, tree := newTarget(t, "main", true)
	tree.Write(t, "a/A.toy", srcA)
	tree.Write(t, "b/B.toy", srcB)

	list := filepath.Join(t.TempDir(), "expected.txt")
	require.NoError(t, os.WriteFile(list, []byte("# sources\n"+tree.Path("a/A.toy")+"\n"), 0o644))
	target.ExpectedSources = list

	_, err := svc.Run(t.Context(), Request{Config: configFor(target)})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategorySafety))
	assert.Empty(t, tc.Calls())

	require.NoError(t, os.WriteFile(list, []byte(tree.Path("a/A.toy")+"\n"+tree.Path("b/B.toy")+"\n"), 0o644))
	res, err := svc.Run(t.Context(), Request{Config: configFor(target)})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestService_TargetsShareThePool(t *testing.T) {
	svc, _ := newService(t)
	lib, libTree := newTarget(t, "lib", true)
	app, appTree := newTarget(t, "app", false)
	libTree.Write(t, "a/A.toy", srcA)
	appTree.Write(t, "b/B.toy", "package b\nclass public B\n")

	res, err := svc.Run(t.Context(), Request{Config: configFor(lib, app)})
	require.NoError(t, err)
	require.Len(t, res.Targets, 2)
	assert.Equal(t, "lib", res.Targets[0].Target)
	assert.Equal(t, "app", res.Targets[1].Target)
	assert.NotEqual(t, res.Targets[0].BuildID, res.Targets[1].BuildID)
	for _, tr := range res.Targets {
		assert.Equal(t, StatusSuccess, tr.Status, tr.Target)
	}

	res, err = svc.Run(t.Context(), Request{Config: configFor(lib, app), Targets: []string{"lib"}})
	require.NoError(t, err)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, StatusUpToDate, res.Targets[0].Status)
}

func TestCheckExpected(t *testing.T) {
	require.NoError(t, checkExpected([]string{"/s/a", "/s/b"}, []string{"/s/b", "/s/a"}))

	err := checkExpected([]string{"/s/a", "/s/c"}, []string{"/s/a", "/s/b"})
	be, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategorySafety, be.Category)
	assert.Equal(t, []string{"/s/c"}, be.Context["missing"])
	assert.Equal(t, []string{"/s/b"}, be.Context["unexpected"])
}
