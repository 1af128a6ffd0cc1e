package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/digest"
)

func TestClasspathEntries(t *testing.T) {
	sep := string(os.PathListSeparator)
	flags := []string{
		"-g",
		"-cp", "lib/a.jar" + sep + "lib/classes",
		"--module-path=mods",
		"-Xlint",
		"-classpath",
	}
	assert.Equal(t, []string{"lib/a.jar", "lib/classes", "mods"}, ClasspathEntries(flags))
	assert.Empty(t, ClasspathEntries([]string{"-d", "out"}))
}

func TestScanLibraries(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.jar", "jar-one")
	write(t, dir, "classes/p/Q.class", "q")
	write(t, dir, "classes/p/R.class", "r")
	jar := filepath.Join(dir, "a.jar")
	classes := filepath.Join(dir, "classes")
	missing := filepath.Join(dir, "gone.jar")

	cache, err := digest.Open("")
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	scan, err := ScanLibraries(t.Context(), []string{jar, classes, missing, jar}, cache)
	require.NoError(t, err)
	require.Len(t, scan.Digests, 3)
	assert.Equal(t, digest.Bytes([]byte("jar-one")), scan.Digests[jar])
	assert.Empty(t, scan.Digests[missing])
	assert.Len(t, scan.Files, 3)
	before := scan.Digests[classes]

	write(t, dir, "classes/p/R.class", "r2")
	scan, err = ScanLibraries(t.Context(), []string{classes}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, before, scan.Digests[classes])

	write(t, dir, "gone.jar", "now here")
	scan, err = ScanLibraries(t.Context(), []string{missing}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, scan.Digests[missing])
}
