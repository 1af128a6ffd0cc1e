// Package pkgcheck verifies that a unit's directory agrees with its declared package.
//
// Directory-based package inference (scanner, resource ownership, artifact
// attribution) is only sound while this holds, so every violation fails the round.
package pkgcheck

import (
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/errors"
)

// Consistent reports whether the trailing segments of dir match pkg's dotted
// segments, innermost first. It succeeds only when every package segment was
// matched; an empty package is always consistent.
func Consistent(dir, pkg string) bool {
	if pkg == "" {
		return true
	}
	dirSegs := splitNonEmpty(filepath.ToSlash(dir), "/")
	pkgSegs := splitNonEmpty(pkg, ".")

	i, j := len(dirSegs)-1, len(pkgSegs)-1
	for ; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if dirSegs[i] != pkgSegs[j] {
			return false
		}
	}
	return j < 0
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Checker collects violations across a round. It is a compiler.UnitListener.
type Checker struct {
	mu         sync.Mutex
	violations []errors.Mismatch
	seen       map[errors.Mismatch]struct{}
}

// NewChecker returns an empty checker.
func NewChecker() *Checker {
	return &Checker{seen: map[errors.Mismatch]struct{}{}}
}

// Check records a violation if dir and pkg disagree.
func (c *Checker) Check(dir, pkg string) {
	if Consistent(dir, pkg) {
		return
	}
	m := errors.Mismatch{Directory: filepath.ToSlash(dir), Package: pkg}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[m]; dup {
		return
	}
	c.seen[m] = struct{}{}
	c.violations = append(c.violations, m)
}

// UnitCompleted implements compiler.UnitListener. Library units and units without
// a source location are not checked.
func (c *Checker) UnitCompleted(u *compiler.Unit) {
	if u.Source == "" || u.Origin == compiler.OriginLibrary {
		return
	}
	c.Check(filepath.Dir(u.Source), u.Package)
}

// CompilationCompleted implements compiler.UnitListener.
func (c *Checker) CompilationCompleted() {}

// Violations returns the collected mismatches in discovery order.
func (c *Checker) Violations() []errors.Mismatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]errors.Mismatch(nil), c.violations...)
}

// Err returns a consistency error listing every violation, or nil.
func (c *Checker) Err() error {
	v := c.Violations()
	if len(v) == 0 {
		return nil
	}
	return errors.PackageMismatch(v)
}
