// Package filemanager tracks every file a compiler invocation reads or writes.
//
// A Manager hides inputs that are not on the invocation's visible-source list and
// attributes each output to the package that owns it. One Manager serves exactly one
// invocation; concurrent invocations never share an instance.
package filemanager

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// DefaultHeaderDir is the header output directory relative to the destination.
const DefaultHeaderDir = "include"

// Manager implements compiler.FileManager.
type Manager struct {
	dest      string
	headerDir string
	classes   billy.Filesystem
	headers   billy.Filesystem

	mu        sync.Mutex
	visible   sets.Set[string]
	order     []string
	artifacts map[string]sets.Set[string]
}

// New returns a manager writing classes below dest and native headers below
// headerDir (dest/include when empty).
func New(dest, headerDir string) *Manager {
	dest = Normalize(dest)
	if headerDir == "" {
		headerDir = filepath.Join(dest, DefaultHeaderDir)
	}
	headerDir = Normalize(headerDir)
	return &Manager{
		dest:      dest,
		headerDir: headerDir,
		classes:   osfs.New(dest),
		headers:   osfs.New(headerDir),
		visible:   sets.New[string](),
		artifacts: map[string]sets.Set[string]{},
	}
}

// Normalize returns the path-equivalent form used for allow-list lookups:
// absolute, cleaned and in Unicode NFC.
func Normalize(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return norm.NFC.String(filepath.Clean(p))
}

// SetVisibleSources replaces the set of sources the compiler may observe.
func (m *Manager) SetVisibleSources(paths []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = sets.New[string]()
	m.order = m.order[:0]
	for _, p := range paths {
		n := Normalize(p)
		if m.visible.Has(n) {
			continue
		}
		m.visible.Add(n)
		m.order = append(m.order, n)
	}
}

// VisibleSources implements compiler.FileManager.
func (m *Manager) VisibleSources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// DestDir implements compiler.FileManager.
func (m *Manager) DestDir() string { return m.dest }

// HeaderDir is the root of native header outputs.
func (m *Manager) HeaderDir() string { return m.headerDir }

// IsVisible reports whether the compiler may observe the input.
func (m *Manager) IsVisible(p string, kind compiler.InputKind) bool {
	if kind == compiler.InputPlatform || IsModuleDescriptor(p) {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible.Has(Normalize(p))
}

// Open implements compiler.FileManager.
func (m *Manager) Open(p string, kind compiler.InputKind) (io.ReadCloser, error) {
	if !m.IsVisible(p, kind) {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return os.Open(p) // #nosec G304 -- visible sources come from the scanner
}

// IsModuleDescriptor reports whether p names a module descriptor unit.
func IsModuleDescriptor(p string) bool {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base)) == "module-info"
}

// CleanArtifacts resets output tracking for a new invocation.
func (m *Manager) CleanArtifacts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = map[string]sets.Set[string]{}
}

// CreateOutput implements compiler.FileManager.
func (m *Manager) CreateOutput(name string, kind compiler.OutputKind) (io.WriteCloser, error) {
	rel, pkg, err := outputLocation(name, kind)
	if err != nil {
		return nil, err
	}
	target, root := m.classes, m.dest
	if kind == compiler.OutputNativeHeader {
		target, root = m.headers, m.headerDir
	}
	if dir := path.Dir(rel); dir != "." {
		if err := target.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir for %s: %w", name, err)
		}
	}
	f, err := target.Create(rel)
	if err != nil {
		return nil, fmt.Errorf("create output for %s: %w", name, err)
	}
	m.track(pkg, filepath.Join(root, filepath.FromSlash(rel)))
	return f, nil
}

// RecordOutput implements compiler.FileManager for outputs written out of process.
// Relative paths are resolved against the destination directory.
func (m *Manager) RecordOutput(name string, kind compiler.OutputKind, p string) error {
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.dest, p)
	}
	p = Normalize(p)
	if !within(m.dest, p) && !within(m.headerDir, p) {
		return fmt.Errorf("output %s for %s is outside %s", p, name, m.dest)
	}
	var pkg string
	if kind == compiler.OutputNativeHeader {
		pkg = headerPackage(filepath.Base(p))
	} else {
		pkg = compiler.PackageOf(name)
	}
	m.track(pkg, p)
	return nil
}

func (m *Manager) track(pkg, p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.artifacts[pkg]
	if !ok {
		s = sets.New[string]()
		m.artifacts[pkg] = s
	}
	s.Add(p)
}

// PackageArtifacts returns every output of the invocation grouped by package.
func (m *Manager) PackageArtifacts() map[string]sets.Set[string] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]sets.Set[string], len(m.artifacts))
	for pkg, s := range m.artifacts {
		out[pkg] = s.Clone()
	}
	return out
}

// outputLocation maps a fully-qualified name to its slash-separated path relative to
// the output root and the owning package.
func outputLocation(name string, kind compiler.OutputKind) (string, string, error) {
	if name == "" {
		return "", "", fmt.Errorf("empty output name")
	}
	switch kind {
	case compiler.OutputNativeHeader:
		file := mangleHeader(name) + ".h"
		return file, compiler.PackageOf(name), nil
	case compiler.OutputClass, "":
		pkg := compiler.PackageOf(name)
		simple := name
		if pkg != "" {
			simple = name[len(pkg)+1:]
		}
		file := strings.ReplaceAll(simple, ".", "$") + ".class"
		if pkg == "" {
			return file, pkg, nil
		}
		return strings.ReplaceAll(pkg, ".", "/") + "/" + file, pkg, nil
	default:
		return "", "", fmt.Errorf("unknown output kind %q", kind)
	}
}

// mangleHeader encodes a fully-qualified name as a native header basename. Package
// separators become '_', a literal '_' becomes "_1" and nested type separators
// become "_00024" ('$'), so the encoding is reversible.
func mangleHeader(name string) string {
	pkg := compiler.PackageOf(name)
	simple := name
	if pkg != "" {
		simple = name[len(pkg)+1:]
	}
	var b strings.Builder
	writeSegment := func(seg string) {
		for _, r := range seg {
			switch {
			case r == '_':
				b.WriteString("_1")
			case r == '$':
				b.WriteString("_00024")
			case r < 0x80:
				b.WriteRune(r)
			default:
				fmt.Fprintf(&b, "_0%04x", r)
			}
		}
	}
	if pkg != "" {
		for _, seg := range strings.Split(pkg, ".") {
			writeSegment(seg)
			b.WriteByte('_')
		}
	}
	writeSegment(strings.ReplaceAll(simple, ".", "$"))
	return b.String()
}

// unmangleHeader reverses mangleHeader, returning the binary name (nested types
// joined with '$').
func unmangleHeader(base string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(base); i++ {
		c := base[i]
		if c != '_' {
			b.WriteByte(c)
			continue
		}
		switch {
		case i+1 < len(base) && base[i+1] == '1':
			b.WriteByte('_')
			i++
		case i+1 < len(base) && base[i+1] == '0':
			if i+6 > len(base) {
				return "", false
			}
			r, err := strconv.ParseUint(base[i+2:i+6], 16, 32)
			if err != nil {
				return "", false
			}
			b.WriteRune(rune(r))
			i += 5
		default:
			b.WriteByte('.')
		}
	}
	return b.String(), true
}

// headerPackage decodes the package from a native header filename such as
// a_b_C_00024Inner.h.
func headerPackage(file string) string {
	name, ok := unmangleHeader(strings.TrimSuffix(file, filepath.Ext(file)))
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
