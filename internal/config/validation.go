package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/resources"
)

// Validate checks cfg for configuration errors. It runs before any build so a
// failure never touches build state.
func Validate(cfg *Config) error {
	if len(cfg.Targets) == 0 {
		return errors.ConfigRequired("targets")
	}
	if cfg.Workers < 0 {
		return errors.ValidationFailed("workers", "must be positive")
	}
	if cfg.QueueSize < 0 {
		return errors.ValidationFailed("queue_size", "must be positive")
	}
	if cfg.Compiler.Timeout < 0 {
		return errors.ValidationFailed("compiler.timeout", "must be positive")
	}
	if cfg.ShutdownGrace < 0 {
		return errors.ValidationFailed("shutdown_grace", "must be positive")
	}
	if cfg.Watch.Debounce < 0 || cfg.Watch.RescanInterval < 0 {
		return errors.ValidationFailed("watch", "intervals must be positive")
	}
	if _, err := resources.ParseRules(cfg.Resources); err != nil {
		return errors.ValidationFailed("resources", err.Error())
	}

	names := map[string]bool{}
	for i, t := range cfg.Targets {
		if t == nil {
			return errors.ConfigRequired(fmt.Sprintf("targets[%d]", i))
		}
		if t.Name == "" {
			return errors.ConfigRequired(fmt.Sprintf("targets[%d].name", i))
		}
		if names[t.Name] {
			return errors.ValidationFailed("targets", "duplicate target name "+t.Name)
		}
		names[t.Name] = true
		if err := validateTarget(t); err != nil {
			return err
		}
	}

	for i, a := range cfg.Targets {
		for _, b := range cfg.Targets[i+1:] {
			if Overlaps(a.Destination, b.Destination) {
				return errors.DirectoryOverlap(a.Destination, b.Destination).
					WithContext("targets", a.Name+","+b.Name)
			}
			if a.StateDir != "" && a.StateDir == b.StateDir {
				return errors.ValidationFailed("state_dir", "targets "+a.Name+" and "+b.Name+" share a state directory")
			}
		}
	}
	return nil
}

func validateTarget(t *Target) error {
	field := func(f string) string { return "targets." + t.Name + "." + f }
	if t.Destination == "" {
		return errors.ConfigRequired(field("destination"))
	}
	if len(t.Sources) == 0 {
		return errors.ConfigRequired(field("sources"))
	}
	for _, s := range t.Sources {
		if s == "" {
			return errors.ValidationFailed(field("sources"), "empty source root")
		}
		if Overlaps(s, t.Destination) {
			return errors.DirectoryOverlap(s, t.Destination)
		}
		if t.StateDir != "" && Overlaps(s, t.StateDir) {
			return errors.DirectoryOverlap(s, t.StateDir)
		}
	}
	if t.StateDir != "" && Overlaps(t.StateDir, t.Destination) {
		return errors.DirectoryOverlap(t.StateDir, t.Destination)
	}
	for _, ext := range t.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return errors.ValidationFailed(field("extensions"), fmt.Sprintf("%q must start with a dot", ext))
		}
	}
	return nil
}

// Overlaps reports whether one path equals or contains the other.
func Overlaps(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return within(a, b) || within(b, a)
}

func within(root, p string) bool {
	ra, err1 := filepath.Abs(root)
	pa, err2 := filepath.Abs(p)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(ra, pa)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
