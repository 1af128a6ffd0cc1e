// Package config loads the incbuild configuration: one or more build targets plus
// the settings shared by every target.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/incbuild/internal/errors"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "incbuild.yaml"

// CurrentVersion is the only accepted configuration version.
const CurrentVersion = "1"

// Config is the root of the configuration file.
type Config struct {
	Version   string            `yaml:"version"`
	Targets   []*Target         `yaml:"targets"`
	Compiler  CompilerConfig    `yaml:"compiler"`
	Workers   int               `yaml:"workers"`
	QueueSize int               `yaml:"queue_size"`
	Resources map[string]string `yaml:"resources,omitempty"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	History   HistoryConfig     `yaml:"history"`
	Watch     WatchConfig       `yaml:"watch"`
	Logging   LoggingConfig     `yaml:"logging"`

	// ShutdownGrace bounds how long in-flight invocations may finish on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Target is one independently built source tree.
type Target struct {
	Name        string   `yaml:"name"`
	Destination string   `yaml:"destination"`
	HeaderDir   string   `yaml:"header_dir,omitempty"`
	Sources     []string `yaml:"sources"`

	// StateDir enables incremental builds. Without it every build is a full,
	// stateless one-shot build.
	StateDir string `yaml:"state_dir,omitempty"`

	Include       []string `yaml:"include,omitempty"`
	Exclude       []string `yaml:"exclude,omitempty"`
	Extensions    []string `yaml:"extensions,omitempty"`
	CompilerFlags []string `yaml:"compiler_flags,omitempty"`

	// Libraries are library inputs whose content changes retaint packages with
	// external dependencies. Classpath entries in CompilerFlags are added to them.
	Libraries []string `yaml:"libraries,omitempty"`

	// ExpectedSources names a file listing every source the scan must find, one
	// path per line.
	ExpectedSources string `yaml:"expected_sources,omitempty"`
}

// Incremental reports whether the target keeps build state.
func (t *Target) Incremental() bool { return t.StateDir != "" }

// CompilerConfig configures the external compiler command.
type CompilerConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Env     []string      `yaml:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	// Textfile receives a node-exporter textfile after every build.
	Textfile string `yaml:"textfile,omitempty"`
	// Listen is the address watch mode serves /metrics on.
	Listen string `yaml:"listen,omitempty"`
}

// Enabled reports whether any export is configured.
func (m MetricsConfig) Enabled() bool { return m.Textfile != "" || m.Listen != "" }

// HistoryConfig configures the build event log.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
}

// LoggingConfig configures the default log level.
type LoggingConfig struct {
	Level LogLevel `yaml:"level"`
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(dir string) {
	for _, name := range []string{".env", ".env.local"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads, expands, normalises, defaults and validates a configuration file.
// Relative paths in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "read configuration")
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.FileSystemError("resolve configuration dir", err)
	}
	LoadEnv(base)

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(base)
	if err := Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML without applying defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "decode configuration")
	}
	if cfg.Version != "" && cfg.Version != CurrentVersion {
		return nil, errors.ValidationFailed("version", fmt.Sprintf("unsupported version %q (expected %s)", cfg.Version, CurrentVersion))
	}
	cfg.Version = CurrentVersion
	return &cfg, nil
}

// Finalize applies defaults and validates cfg.
func Finalize(cfg *Config) error {
	ApplyDefaults(cfg)
	return Validate(cfg)
}

// Target returns the target called name.
func (c *Config) Target(name string) (*Target, bool) {
	for _, t := range c.Targets {
		if t != nil && t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Select returns the named targets, or every target when names is empty.
func (c *Config) Select(names []string) ([]*Target, error) {
	if len(names) == 0 {
		return c.Targets, nil
	}
	out := make([]*Target, 0, len(names))
	for _, n := range names {
		t, ok := c.Target(n)
		if !ok {
			return nil, errors.ValidationFailed("target", "unknown target "+n)
		}
		out = append(out, t)
	}
	return out, nil
}

// ResolvePaths makes every relative path in c absolute against base.
func (c *Config) ResolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for _, t := range c.Targets {
		if t == nil {
			continue
		}
		t.Destination = abs(t.Destination)
		t.HeaderDir = abs(t.HeaderDir)
		t.StateDir = abs(t.StateDir)
		t.ExpectedSources = abs(t.ExpectedSources)
		for i, s := range t.Sources {
			t.Sources[i] = abs(s)
		}
		for i, l := range t.Libraries {
			t.Libraries[i] = abs(l)
		}
	}
	c.Metrics.Textfile = abs(c.Metrics.Textfile)
	c.History.Path = abs(c.History.Path)
}
