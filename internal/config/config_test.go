package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/errors"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, DefaultFile)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_ResolvesPathsAndDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INCBUILD_TEST_OUT", "out")
	p := writeConfig(t, dir, `
version: "1"
compiler:
  command: javac-events
  timeout: 90s
workers: 3
targets:
  - name: app
    destination: ${INCBUILD_TEST_OUT}/classes
    sources: [src/main/java, src/gen]
    state_dir: .incbuild
    compiler_flags: ["-g"]
    libraries: [lib/util.jar]
`)

	cfg, err := Load(p)
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 1)
	tgt := cfg.Targets[0]
	assert.Equal(t, filepath.Join(dir, "out", "classes"), tgt.Destination)
	assert.Equal(t, filepath.Join(dir, "out", "classes", "include"), tgt.HeaderDir)
	assert.Equal(t, []string{filepath.Join(dir, "src", "main", "java"), filepath.Join(dir, "src", "gen")}, tgt.Sources)
	assert.Equal(t, []string{filepath.Join(dir, "lib", "util.jar")}, tgt.Libraries)
	assert.True(t, tgt.Incremental())

	assert.Equal(t, 90*time.Second, cfg.Compiler.Timeout)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 6, cfg.QueueSize)
	assert.Equal(t, DefaultShutdownGrace, cfg.ShutdownGrace)
	assert.Equal(t, DefaultResources, cfg.Resources)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("INCBUILD_TEST_DEST=from-env\n"), 0o644))
	t.Setenv("INCBUILD_TEST_DEST", "")
	require.NoError(t, os.Unsetenv("INCBUILD_TEST_DEST"))
	p := writeConfig(t, dir, `
targets:
  - destination: ${INCBUILD_TEST_DEST}
    sources: [src]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "from-env"), cfg.Targets[0].Destination)
	assert.Equal(t, DefaultTargetName, cfg.Targets[0].Name)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfig))

	p := writeConfig(t, t.TempDir(), "targets: []\nbogus: 1\n")
	_, err = Load(p)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfig))

	p = writeConfig(t, t.TempDir(), "targets:\n  -\n")
	require.NotPanics(t, func() { _, err = Load(p) })
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfig))

	cfg, err := Parse([]byte("targets:\n  -\n"))
	require.NoError(t, err)
	require.NotPanics(t, func() { err = Finalize(cfg) })
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfig))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Targets: []*Target{{Name: "a", Destination: "/w/out", Sources: []string{"/w/src"}, StateDir: "/w/state"}}}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no targets", func(c *Config) { c.Targets = nil }},
		{"no sources", func(c *Config) { c.Targets[0].Sources = nil }},
		{"dest inside source", func(c *Config) { c.Targets[0].Destination = "/w/src/out" }},
		{"state inside dest", func(c *Config) { c.Targets[0].StateDir = "/w/out/state" }},
		{"duplicate names", func(c *Config) {
			c.Targets = append(c.Targets, &Target{Name: "a", Destination: "/w/out2", Sources: []string{"/w/src2"}})
		}},
		{"overlapping destinations", func(c *Config) {
			c.Targets = append(c.Targets, &Target{Name: "b", Destination: "/w/out/sub", Sources: []string{"/w/src2"}})
		}},
		{"bad transformer", func(c *Config) { c.Resources = map[string]string{".x": "nope"} }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"bad extension", func(c *Config) { c.Targets[0].Extensions = []string{"java"} }},
	}
	require.NoError(t, Finalize(base()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := Finalize(c)
			require.Error(t, err)
			cat := errors.GetCategory(err)
			assert.Contains(t, []errors.ErrorCategory{errors.CategoryConfig, errors.CategoryValidation}, cat)
		})
	}
}

func TestSelect(t *testing.T) {
	cfg := &Config{Targets: []*Target{{Name: "a"}, {Name: "b"}}}
	all, err := cfg.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := cfg.Select([]string{"b"})
	require.NoError(t, err)
	assert.Equal(t, "b", one[0].Name)

	_, err = cfg.Select([]string{"c"})
	assert.Error(t, err)
}

func TestNormalizeLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, NormalizeLogLevel(" DEBUG "))
	assert.Equal(t, LogLevelWarn, NormalizeLogLevel("warning"))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("verbose"))
}
