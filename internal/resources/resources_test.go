package resources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/sources"
)

func TestCleanProperties(t *testing.T) {
	in := "# comment\n\n! bang comment\nname = demo\nurl:http://x\nmulti = one \\\n  two\nflag\n"
	var out strings.Builder
	require.NoError(t, CleanProperties{}.Transform(&out, strings.NewReader(in)))
	assert.Equal(t, "name=demo\nurl=http://x\nmulti=one two\nflag=\n", out.String())
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules(map[string]string{".properties": "clean-properties", "*": "copy"})
	require.NoError(t, err)

	tr, ok := rules.match("a/app.properties")
	require.True(t, ok)
	assert.Equal(t, "clean-properties", tr.Name())
	tr, ok = rules.match("a/logo.png")
	require.True(t, ok)
	assert.Equal(t, "copy", tr.Name())

	_, err = ParseRules(map[string]string{".x": "bogus"})
	assert.ErrorContains(t, err, "unknown transformer")
}

func TestCopier_WritesOnlyChangedOutputs(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	in := filepath.Join(src, "a", "app.properties")
	require.NoError(t, os.MkdirAll(filepath.Dir(in), 0o755))
	require.NoError(t, os.WriteFile(in, []byte("k = v\n"), 0o644))
	files := []sources.File{{Root: src, Rel: "a/app.properties", Path: in, Inferred: "a", Kind: sources.KindResource}}

	rules, err := ParseRules(map[string]string{".properties": "clean-properties"})
	require.NoError(t, err)
	c := NewCopier(dest, rules, nil)

	first, err := c.Apply(t.Context(), files)
	require.NoError(t, err)
	require.Len(t, first["a"], 1)
	out := filepath.Join(dest, "a", "app.properties")
	assert.Equal(t, out, first["a"][0].Path)
	assert.Equal(t, buildstate.ArtifactResource, first["a"][0].Kind)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "k=v\n", string(data))

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(out, old, old))
	second, err := c.Apply(t.Context(), files)
	require.NoError(t, err)
	assert.Equal(t, old.UnixNano(), second["a"][0].ModTime, "unchanged output not rewritten")

	require.NoError(t, os.WriteFile(in, []byte("k = w\n"), 0o644))
	third, err := c.Apply(t.Context(), files)
	require.NoError(t, err)
	assert.NotEqual(t, old.UnixNano(), third["a"][0].ModTime)
}

func TestCopier_SkipsUnmatched(t *testing.T) {
	c := NewCopier(t.TempDir(), Rules{".properties": Copy{}}, nil)
	got, err := c.Apply(t.Context(), []sources.File{{Rel: "logo.png", Path: "/nonexistent"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}
