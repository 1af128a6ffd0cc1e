package driver

import (
	"maps"
	"sync"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// DependencyCollector records, per compiled package, the other packages its units
// reference, split into in-tree and external edges.
type DependencyCollector struct {
	inTree sets.Set[string]

	mu    sync.Mutex
	edges map[string]map[string]buildstate.EdgeKind
}

// NewDependencyCollector returns a collector. inTree names the packages known to
// live in the source tree; references to them are in-tree edges even when the
// compiler does not report an origin.
func NewDependencyCollector(inTree sets.Set[string]) *DependencyCollector {
	if inTree == nil {
		inTree = sets.New[string]()
	}
	return &DependencyCollector{inTree: inTree, edges: map[string]map[string]buildstate.EdgeKind{}}
}

// UnitCompleted implements compiler.UnitListener.
func (c *DependencyCollector) UnitCompleted(u *compiler.Unit) {
	if u.Origin == compiler.OriginLibrary {
		return
	}
	pkg := unitPackage(u)

	c.mu.Lock()
	defer c.mu.Unlock()
	deps, ok := c.edges[pkg]
	if !ok {
		deps = map[string]buildstate.EdgeKind{}
		c.edges[pkg] = deps
	}
	u.Walk(func(n *compiler.Unit) {
		for _, ref := range n.References {
			target := ref.Package
			if target == "" {
				target = compiler.PackageOf(ref.Name)
			}
			if target == pkg {
				continue
			}
			kind := c.kindOf(target, ref.Origin)
			// In-tree wins when one unit sees the package as source and another as library.
			if deps[target] != buildstate.EdgeInTree {
				deps[target] = kind
			}
		}
	})
}

func (c *DependencyCollector) kindOf(target string, origin compiler.Origin) buildstate.EdgeKind {
	switch {
	case c.inTree.Has(target):
		return buildstate.EdgeInTree
	case origin == compiler.OriginSource:
		return buildstate.EdgeInTree
	default:
		return buildstate.EdgeExternal
	}
}

// CompilationCompleted implements compiler.UnitListener.
func (c *DependencyCollector) CompilationCompleted() {}

// Edges returns a copy of the collected edges.
func (c *DependencyCollector) Edges() map[string]map[string]buildstate.EdgeKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]buildstate.EdgeKind, len(c.edges))
	for pkg, deps := range c.edges {
		out[pkg] = maps.Clone(deps)
	}
	return out
}

func unitPackage(u *compiler.Unit) string {
	if u.Package != "" {
		return u.Package
	}
	return compiler.PackageOf(u.Name)
}

// listeners fans unit events out to a fixed list, in order.
type listeners []compiler.UnitListener

func (ls listeners) UnitCompleted(u *compiler.Unit) {
	for _, l := range ls {
		l.UnitCompleted(u)
	}
}

func (ls listeners) CompilationCompleted() {
	for _, l := range ls {
		l.CompilationCompleted()
	}
}
