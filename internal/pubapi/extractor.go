package pubapi

import (
	"sync"

	"git.home.luguber.info/inful/incbuild/internal/compiler"
)

// Extractor is a compiler.UnitListener that accumulates per-package fingerprints
// for one invocation. Library units are kept apart as external fingerprints.
type Extractor struct {
	mu       sync.Mutex
	apis     map[string]PackageAPI
	external map[string]PackageAPI
}

// NewExtractor returns an empty extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		apis:     map[string]PackageAPI{},
		external: map[string]PackageAPI{},
	}
}

// UnitCompleted implements compiler.UnitListener.
func (e *Extractor) UnitCompleted(u *compiler.Unit) {
	pkg := u.Package
	if pkg == "" {
		pkg = compiler.PackageOf(u.Name)
	}
	api := Extract(u)

	e.mu.Lock()
	defer e.mu.Unlock()
	target := e.apis
	if u.Origin == compiler.OriginLibrary {
		target = e.external
	}
	cur, ok := target[pkg]
	if !ok {
		cur = PackageAPI{}
		target[pkg] = cur
	}
	cur.Merge(api)
}

// CompilationCompleted implements compiler.UnitListener.
func (e *Extractor) CompilationCompleted() {}

// APIs returns the fingerprints of every in-tree package that produced a unit.
func (e *Extractor) APIs() map[string]PackageAPI {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.apis)
}

// ExternalAPIs returns the fingerprints of library packages seen during compilation.
func (e *Extractor) ExternalAPIs() map[string]PackageAPI {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.external)
}

func cloneAll(in map[string]PackageAPI) map[string]PackageAPI {
	out := make(map[string]PackageAPI, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
