package incremental

import (
	"log/slog"
	"maps"
	"os"
	"slices"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// Source is one scanned input together with the package it belongs to.
type Source struct {
	Package string
	buildstate.Source
}

// scanReport is what the comparison of the live tree with the previous state found.
type scanReport struct {
	// current maps every package with at least one live source to its sources.
	current map[string]map[string]buildstate.Source
	taint   *TaintSet

	// vanished packages had sources last time and have none now.
	vanished sets.Set[string]

	// dirty is set when the state must be rewritten even if nothing is compiled.
	dirty bool
}

func groupSources(srcs []Source) map[string]map[string]buildstate.Source {
	out := map[string]map[string]buildstate.Source{}
	for _, s := range srcs {
		m, ok := out[s.Package]
		if !ok {
			m = map[string]buildstate.Source{}
			out[s.Package] = m
		}
		m[s.Path] = s.Source
	}
	return out
}

// compareSources reports whether cur differs from prev in a way that needs a
// recompile. Digests decide when both sides have one, so an edit that kept size
// and mtime is still seen; a timestamp-only change with an identical digest sets
// refreshed instead.
func compareSources(prev, cur map[string]buildstate.Source) (changed, refreshed bool) {
	if len(prev) != len(cur) {
		return true, false
	}
	for path, c := range cur {
		p, ok := prev[path]
		if !ok || p.Size != c.Size {
			return true, false
		}
		if p.Digest != "" && c.Digest != "" {
			if p.Digest != c.Digest {
				return true, false
			}
			if p.ModTime != c.ModTime {
				refreshed = true
			}
			continue
		}
		if p.ModTime != c.ModTime {
			return true, false
		}
	}
	return false, refreshed
}

func missingArtifact(p *buildstate.Package) bool {
	for path, a := range p.Artifacts {
		if a.Kind == buildstate.ArtifactResource {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return true
		}
	}
	return false
}

// scan compares the live sources with prev and computes the initial taint set.
// Compiled artifacts of vanished packages are deleted.
func scan(prev *buildstate.State, req Request, logger *slog.Logger) *scanReport {
	r := &scanReport{
		current:  groupSources(req.Sources),
		taint:    NewTaintSet(),
		vanished: sets.New[string](),
	}

	flagsChanged := !prev.Empty() && !slices.Equal(prev.Flags, req.Flags)
	librariesChanged := !prev.Empty() && !maps.Equal(prev.Libraries, req.Libraries)
	if flagsChanged || librariesChanged {
		r.dirty = true
	}
	if librariesChanged {
		logger.Info("Library inputs changed")
	}

	names := make([]string, 0, len(r.current))
	for name := range r.current {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p, known := prev.Packages[name]
		switch {
		case flagsChanged:
			r.taint.Add(name, ReasonFlagsChanged)
			continue
		case !known:
			r.taint.Add(name, ReasonChanged)
			continue
		}
		changed, refreshed := compareSources(p.Sources, r.current[name])
		if refreshed {
			r.dirty = true
		}
		switch {
		case changed:
			r.taint.Add(name, ReasonChanged)
		case prev.Untrusted.Has(name) || missingArtifact(p):
			r.taint.Add(name, ReasonMissingArtifacts)
		case p.CompiledArtifacts() == 0:
			r.taint.Add(name, ReasonNoArtifacts)
		case librariesChanged && p.HasExternalDependencies():
			r.taint.Add(name, ReasonLibraryChanged)
		}
	}

	for _, name := range prev.PackageNames() {
		p := prev.Packages[name]
		if _, live := r.current[name]; live || len(p.Sources) == 0 {
			continue
		}
		r.vanished.Add(name)
		r.dirty = true
		for path, a := range p.Artifacts {
			if a.Kind == buildstate.ArtifactResource {
				continue
			}
			if err := removeArtifact(path); err != nil {
				logger.Warn("Failed to delete artifact of removed package",
					logfields.Package(name), logfields.Path(path), logfields.Error(err))
			}
		}
		for dependent := range prev.Dependents(name) {
			if _, live := r.current[dependent]; live {
				r.taint.Add(dependent, APIChangeReason(name))
			}
		}
	}
	return r
}
