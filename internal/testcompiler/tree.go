package testcompiler

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Tree writes sources below a root directory. Every write moves the file's
// modification time strictly forward, so coarse filesystem clocks never hide an edit.
type Tree struct {
	Root string

	mu    sync.Mutex
	clock time.Time
}

// NewTree returns a tree rooted at root.
func NewTree(root string) *Tree {
	return &Tree{Root: root, clock: time.Now().Add(-24 * time.Hour).Truncate(time.Second)}
}

// Path returns the absolute path of rel.
func (t *Tree) Path(rel string) string {
	return filepath.Join(t.Root, filepath.FromSlash(rel))
}

// Write creates or replaces rel and returns its absolute path.
func (t *Tree) Write(tb testing.TB, rel, content string) string {
	tb.Helper()
	p := t.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tb.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", rel, err)
	}
	t.Touch(tb, rel)
	return p
}

// Touch advances rel's modification time without changing its content.
func (t *Tree) Touch(tb testing.TB, rel string) {
	tb.Helper()
	t.mu.Lock()
	t.clock = t.clock.Add(time.Second)
	ts := t.clock
	t.mu.Unlock()
	if err := os.Chtimes(t.Path(rel), ts, ts); err != nil {
		tb.Fatalf("chtimes %s: %v", rel, err)
	}
}

// Remove deletes rel.
func (t *Tree) Remove(tb testing.TB, rel string) {
	tb.Helper()
	if err := os.Remove(t.Path(rel)); err != nil {
		tb.Fatalf("remove %s: %v", rel, err)
	}
}
