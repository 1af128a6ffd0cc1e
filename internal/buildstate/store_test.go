package buildstate

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/pubapi"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

func quietStore(dir string) *Store {
	return NewStore(dir, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
}

func writeArtifact(t *testing.T, path string) Artifact {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return Artifact{Path: path, ModTime: info.ModTime().UnixNano(), Kind: ArtifactCompiled}
}

func sampleState(t *testing.T, out string) *State {
	t.Helper()
	st := New()
	st.Flags = []string{"-g"}
	a := st.Package("a")
	a.Sources["/src/a/A.java"] = Source{Path: "/src/a/A.java", ModTime: 10, Size: 3, Digest: "abc"}
	art := writeArtifact(t, filepath.Join(out, "a", "A.class"))
	a.Artifacts[art.Path] = art
	a.API = pubapi.PackageAPI{"a.A": {"type class public"}}
	b := st.Package("b")
	b.Dependencies["a"] = EdgeInTree
	b.Dependencies["java.util"] = EdgeExternal
	st.ExternalAPIs["java.util"] = pubapi.PackageAPI{"java.util.List": {"type interface public"}}
	return st
}

func TestStore_CommitLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := quietStore(dir)
	st := sampleState(t, t.TempDir())

	require.NoError(t, store.Commit(st))
	loaded := store.Load()

	assert.Equal(t, st.Flags, loaded.Flags)
	assert.Equal(t, st.PackageNames(), loaded.PackageNames())
	assert.Equal(t, st.Packages["a"].Artifacts, loaded.Packages["a"].Artifacts)
	assert.Equal(t, st.Packages["b"].Dependencies, loaded.Packages["b"].Dependencies)
	assert.True(t, pubapi.Equal(st.Packages["a"].API, loaded.Packages["a"].API))
	assert.True(t, loaded.Dependents("a").Equal(sets.New("b")))
	assert.Empty(t, loaded.Untrusted)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, FileName, entries[0].Name())
}

func TestStore_LoadFailsSoft(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"garbage", []byte("not a state file at all")},
		{"other version", []byte("incbuild-state 999\n")},
		{"truncated payload", []byte("incbuild-state 1\n\x28\xb5")},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), tt.content, 0o644))
			st := quietStore(dir).Load()
			require.NotNil(t, st)
			assert.True(t, st.Empty())
			assert.Equal(t, FormatVersion, st.Version)
		})
	}

	t.Run("missing", func(t *testing.T) {
		assert.True(t, quietStore(t.TempDir()).Load().Empty())
	})
}

func TestStore_LoadPurgesTouchedArtifacts(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	store := quietStore(dir)
	st := sampleState(t, out)
	missing := filepath.Join(out, "a", "Gone.class")
	st.Packages["a"].Artifacts[missing] = Artifact{Path: missing, ModTime: 1, Kind: ArtifactCompiled}
	require.NoError(t, store.Commit(st))

	touched := filepath.Join(out, "a", "A.class")
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(touched, later, later))

	loaded := store.Load()
	assert.NotContains(t, loaded.Packages["a"].Artifacts, touched)
	assert.NoFileExists(t, touched)
	assert.True(t, loaded.Untrusted.Has("a"))
	assert.Contains(t, loaded.Packages["a"].Artifacts, missing, "missing artifacts stay recorded")
}

func TestStore_FailedCommitKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	store := quietStore(dir)
	require.NoError(t, store.Commit(sampleState(t, t.TempDir())))
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	bad := New()
	bad.Package("x").API = pubapi.PackageAPI{"x.X": {"type class public"}}
	bad.Packages["x"].Artifacts["/nowhere"] = Artifact{Path: "/nowhere", Kind: ArtifactCompiled}
	// Make the directory read-only so the temp file cannot be created.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	require.Error(t, store.Commit(bad))
	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_Remove(t *testing.T) {
	store := quietStore(t.TempDir())
	require.NoError(t, store.Remove())
	require.NoError(t, store.Commit(New()))
	require.NoError(t, store.Remove())
	assert.NoFileExists(t, store.Path())
}

func TestState_CloneIsDeep(t *testing.T) {
	st := sampleState(t, t.TempDir())
	c := st.Clone()
	c.Packages["a"].Dependencies["z"] = EdgeInTree
	c.Packages["a"].API["a.A"][0] = "changed"
	assert.NotContains(t, st.Packages["a"].Dependencies, "z")
	assert.Equal(t, "type class public", st.Packages["a"].API["a.A"][0])
}
