// Package buildstate holds the durable record of the last successful build and
// the store that loads and commits it.
package buildstate

import (
	"maps"
	"slices"

	"git.home.luguber.info/inful/incbuild/internal/pubapi"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// FormatVersion tags the persisted encoding. Any other version is treated as
// absent state.
const FormatVersion = 1

// EdgeKind classifies a dependency edge.
type EdgeKind string

const (
	EdgeInTree   EdgeKind = "in-tree"
	EdgeExternal EdgeKind = "external"
)

// ArtifactKind tells compiled outputs apart from copied resources.
type ArtifactKind string

const (
	ArtifactCompiled ArtifactKind = "compiled"
	ArtifactResource ArtifactKind = "resource"
)

// Source is one input file as seen by the scanner.
type Source struct {
	Path    string `json:"path"`
	ModTime int64  `json:"mtime_ns"`
	Size    int64  `json:"size"`
	Digest  string `json:"digest,omitempty"`
}

// Artifact is one output file with the timestamp it had when committed.
type Artifact struct {
	Path    string       `json:"path"`
	ModTime int64        `json:"mtime_ns"`
	Kind    ArtifactKind `json:"kind"`
}

// Package is the per-package slice of the build state.
type Package struct {
	Name         string              `json:"name"`
	Sources      map[string]Source   `json:"sources,omitempty"`
	Artifacts    map[string]Artifact `json:"artifacts,omitempty"`
	Dependencies map[string]EdgeKind `json:"dependencies,omitempty"`
	API          pubapi.PackageAPI   `json:"api,omitempty"`
}

// NewPackage returns an empty package entry.
func NewPackage(name string) *Package {
	return &Package{
		Name:         name,
		Sources:      map[string]Source{},
		Artifacts:    map[string]Artifact{},
		Dependencies: map[string]EdgeKind{},
	}
}

// CompiledArtifacts counts the artifacts produced by the compiler.
func (p *Package) CompiledArtifacts() int {
	n := 0
	for _, a := range p.Artifacts {
		if a.Kind != ArtifactResource {
			n++
		}
	}
	return n
}

// SourcePaths returns the package's source paths in sorted order.
func (p *Package) SourcePaths() []string {
	return slices.Sorted(maps.Keys(p.Sources))
}

// Clone returns a deep copy.
func (p *Package) Clone() *Package {
	c := &Package{
		Name:         p.Name,
		Sources:      maps.Clone(p.Sources),
		Artifacts:    maps.Clone(p.Artifacts),
		Dependencies: maps.Clone(p.Dependencies),
		API:          p.API.Clone(),
	}
	if c.Sources == nil {
		c.Sources = map[string]Source{}
	}
	if c.Artifacts == nil {
		c.Artifacts = map[string]Artifact{}
	}
	if c.Dependencies == nil {
		c.Dependencies = map[string]EdgeKind{}
	}
	return c
}

// State is the unit of atomic commit.
type State struct {
	Version      int                          `json:"version"`
	Flags        []string                     `json:"flags,omitempty"`
	Packages     map[string]*Package          `json:"packages"`
	ExternalAPIs map[string]pubapi.PackageAPI `json:"external_apis,omitempty"`

	// Libraries maps every library input (classpath entry) to its content digest.
	Libraries map[string]string `json:"libraries,omitempty"`

	// Untrusted holds packages that lost artifacts to the load-time trust check.
	Untrusted sets.Set[string] `json:"-"`
}

// New returns an empty state of the current format version.
func New() *State {
	return &State{
		Version:      FormatVersion,
		Packages:     map[string]*Package{},
		ExternalAPIs: map[string]pubapi.PackageAPI{},
		Libraries:    map[string]string{},
		Untrusted:    sets.New[string](),
	}
}

// Empty reports whether the state records no packages.
func (s *State) Empty() bool { return len(s.Packages) == 0 }

// Package returns the named package, creating it when absent.
func (s *State) Package(name string) *Package {
	p, ok := s.Packages[name]
	if !ok {
		p = NewPackage(name)
		s.Packages[name] = p
	}
	return p
}

// PackageNames returns every package name in sorted order.
func (s *State) PackageNames() []string {
	return slices.Sorted(maps.Keys(s.Packages))
}

// HasExternalDependencies reports whether the package depends on anything outside
// the tree.
func (p *Package) HasExternalDependencies() bool {
	for _, kind := range p.Dependencies {
		if kind == EdgeExternal {
			return true
		}
	}
	return false
}

// Dependents returns the packages holding an edge (of either kind) to dep.
func (s *State) Dependents(dep string) sets.Set[string] {
	out := sets.New[string]()
	for name, p := range s.Packages {
		if _, ok := p.Dependencies[dep]; ok {
			out.Add(name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{
		Version:      s.Version,
		Flags:        slices.Clone(s.Flags),
		Packages:     make(map[string]*Package, len(s.Packages)),
		ExternalAPIs: make(map[string]pubapi.PackageAPI, len(s.ExternalAPIs)),
		Libraries:    maps.Clone(s.Libraries),
		Untrusted:    s.Untrusted.Clone(),
	}
	for k, p := range s.Packages {
		c.Packages[k] = p.Clone()
	}
	for k, a := range s.ExternalAPIs {
		c.ExternalAPIs[k] = a.Clone()
	}
	return c
}

// normalize fills nil maps left by decoding.
func (s *State) normalize() {
	if s.Packages == nil {
		s.Packages = map[string]*Package{}
	}
	if s.ExternalAPIs == nil {
		s.ExternalAPIs = map[string]pubapi.PackageAPI{}
	}
	if s.Libraries == nil {
		s.Libraries = map[string]string{}
	}
	if s.Untrusted == nil {
		s.Untrusted = sets.New[string]()
	}
	for name, p := range s.Packages {
		if p == nil {
			delete(s.Packages, name)
			continue
		}
		p.Name = name
		if p.Sources == nil {
			p.Sources = map[string]Source{}
		}
		if p.Artifacts == nil {
			p.Artifacts = map[string]Artifact{}
		}
		if p.Dependencies == nil {
			p.Dependencies = map[string]EdgeKind{}
		}
	}
}
