package incremental

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/pubapi"
)

func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resourcesChanged reports whether the materialised resources differ from the ones
// recorded in the previous state.
func (b *build) resourcesChanged() bool {
	if b.req.Resources == nil {
		return false
	}
	recorded := map[string]int64{}
	for _, p := range b.prev.Packages {
		for path, a := range p.Artifacts {
			if a.Kind == buildstate.ArtifactResource {
				recorded[path] = a.ModTime
			}
		}
	}
	n := 0
	for _, arts := range b.resources {
		for _, a := range arts {
			n++
			mt, ok := recorded[a.Path]
			if !ok || mt != a.ModTime {
				return true
			}
		}
	}
	return n != len(recorded)
}

// nextState derives the state to commit: the previous state with compiled packages
// replaced, vanished packages dropped and every invariant checked.
func (b *build) nextState() (*buildstate.State, error) {
	next := b.prev.Clone()
	next.Flags = slices.Clone(b.req.Flags)
	next.Libraries = maps.Clone(b.req.Libraries)

	for pkg := range b.report.vanished {
		p := next.Packages[pkg]
		p.Sources = map[string]buildstate.Source{}
		p.Dependencies = map[string]buildstate.EdgeKind{}
		p.API = nil
		for path, a := range p.Artifacts {
			if a.Kind != buildstate.ArtifactResource {
				delete(p.Artifacts, path)
			}
		}
	}
	for pkg, srcs := range b.report.current {
		next.Package(pkg).Sources = srcs
	}

	for pkg := range b.compiled {
		p := next.Package(pkg)
		p.API = b.apis[pkg].Clone()
		p.Dependencies = map[string]buildstate.EdgeKind{}
		for dep, kind := range b.edges[pkg] {
			p.Dependencies[dep] = kind
		}
	}
	for pkg, paths := range b.artifacts {
		if !b.compiled.Has(pkg) && !b.produced.Has(pkg) {
			continue
		}
		p := next.Package(pkg)
		for path, a := range p.Artifacts {
			if a.Kind != buildstate.ArtifactResource {
				delete(p.Artifacts, path)
			}
		}
		for path := range paths {
			info, err := os.Stat(path)
			if err != nil {
				return nil, errors.InternalError(fmt.Sprintf("artifact of %s missing at commit", pkg), err)
			}
			p.Artifacts[path] = buildstate.Artifact{
				Path:    path,
				ModTime: info.ModTime().UnixNano(),
				Kind:    buildstate.ArtifactCompiled,
			}
		}
	}

	if b.req.Resources != nil {
		if err := b.replaceResources(next); err != nil {
			return nil, err
		}
	}

	b.checkEdges(next)

	for pkg, api := range b.externals {
		cur, ok := next.ExternalAPIs[pkg]
		if !ok {
			cur = pubapi.PackageAPI{}
			next.ExternalAPIs[pkg] = cur
		}
		for typ, lines := range api {
			cur[typ] = slices.Clone(lines)
		}
	}

	for name, p := range next.Packages {
		if len(p.Sources) == 0 && len(p.Artifacts) == 0 {
			delete(next.Packages, name)
		}
	}
	return next, nil
}

// replaceResources swaps the recorded resource artifacts for the ones produced by
// this build and deletes outputs whose input is gone.
func (b *build) replaceResources(next *buildstate.State) error {
	live := map[string]bool{}
	for _, arts := range b.resources {
		for _, a := range arts {
			live[a.Path] = true
		}
	}
	for _, p := range next.Packages {
		for path, a := range p.Artifacts {
			if a.Kind != buildstate.ArtifactResource {
				continue
			}
			delete(p.Artifacts, path)
			if live[path] {
				continue
			}
			if err := removeArtifact(path); err != nil {
				return errors.FileSystemError("delete stale resource", err)
			}
		}
	}
	for pkg, arts := range b.resources {
		p := next.Package(pkg)
		for _, a := range arts {
			a.Kind = buildstate.ArtifactResource
			p.Artifacts[a.Path] = a
		}
	}
	return nil
}

// checkEdges makes every edge kind agree with the committed package set.
func (b *build) checkEdges(next *buildstate.State) {
	for _, name := range next.PackageNames() {
		p := next.Packages[name]
		for dep, kind := range p.Dependencies {
			_, inTree := b.report.current[dep]
			switch {
			case kind == buildstate.EdgeInTree && !inTree:
				b.logger.Warn("In-tree dependency no longer in the tree, recording as external",
					logfields.Package(name), slog.String("dependency", dep))
				p.Dependencies[dep] = buildstate.EdgeExternal
			case kind == buildstate.EdgeExternal && inTree:
				p.Dependencies[dep] = buildstate.EdgeInTree
			}
		}
	}
}
