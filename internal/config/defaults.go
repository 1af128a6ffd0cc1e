package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultCompilerTimeout = 10 * time.Minute
	DefaultShutdownGrace   = 30 * time.Second
	DefaultDebounce        = 300 * time.Millisecond
	DefaultRescanInterval  = 5 * time.Minute
	DefaultTargetName      = "main"
)

// DefaultResources copies every resource unchanged.
var DefaultResources = map[string]string{"*": "copy"}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 2 * cfg.Workers
	}
	if cfg.Compiler.Timeout == 0 {
		cfg.Compiler.Timeout = DefaultCompilerTimeout
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.Resources == nil {
		cfg.Resources = map[string]string{}
		for k, v := range DefaultResources {
			cfg.Resources[k] = v
		}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultDebounce
	}
	if cfg.Watch.RescanInterval == 0 {
		cfg.Watch.RescanInterval = DefaultRescanInterval
	}
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))

	if len(cfg.Targets) == 1 && cfg.Targets[0] != nil && cfg.Targets[0].Name == "" {
		cfg.Targets[0].Name = DefaultTargetName
	}
	for _, t := range cfg.Targets {
		if t == nil {
			continue
		}
		t.Name = strings.TrimSpace(t.Name)
		t.Destination = clean(t.Destination)
		t.StateDir = clean(t.StateDir)
		t.HeaderDir = clean(t.HeaderDir)
		if t.HeaderDir == "" && t.Destination != "" {
			t.HeaderDir = filepath.Join(t.Destination, "include")
		}
		for i, s := range t.Sources {
			t.Sources[i] = clean(s)
		}
		for i, l := range t.Libraries {
			t.Libraries[i] = clean(l)
		}
	}
}

func clean(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
