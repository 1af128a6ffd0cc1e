package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/build"
	"git.home.luguber.info/inful/incbuild/internal/config"
)

type countingRunner struct {
	mu      sync.Mutex
	targets []string
	active  map[string]bool
	overlap bool
}

func (r *countingRunner) Run(_ context.Context, req build.Request) (*build.Result, error) {
	name := req.Targets[0]
	r.mu.Lock()
	if r.active[name] {
		r.overlap = true
	}
	r.active[name] = true
	r.targets = append(r.targets, name)
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.active[name] = false
	r.mu.Unlock()
	return &build.Result{Status: build.StatusSuccess}, nil
}

func (r *countingRunner) count(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.targets {
		if t == target {
			n++
		}
	}
	return n
}

func TestWatcher_TargetsFor(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	w, err := NewWatcher(map[string][]string{root: {"a", "b"}, other: {"c"}}, func(string, string) {}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.ElementsMatch(t, []string{"a", "b"}, w.targetsFor(filepath.Join(root, "x", "Y.java")))
	assert.Equal(t, []string{"c"}, w.targetsFor(filepath.Join(other, "Z.java")))
	assert.Empty(t, w.targetsFor(filepath.Join(filepath.Dir(root), "elsewhere")))
}

func TestRun_RebuildsOnChange(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Targets: []*config.Target{{Name: "main", Sources: []string{root}, Destination: t.TempDir()}},
		Watch:   config.WatchConfig{Debounce: 30 * time.Millisecond},
	}
	runner := &countingRunner{active: map[string]bool{}}

	var mu sync.Mutex
	var results []*build.Result
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, runner, Options{OnBuild: func(_ string, res *build.Result, _ error) {
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}})
	}()

	require.Eventually(t, func() bool { return runner.count("main") == 1 }, 2*time.Second, 10*time.Millisecond)

	// New directories are watched as they appear.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "C.java"), []byte("package a.b;"), 0o644))

	require.Eventually(t, func() bool { return runner.count("main") >= 2 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}

	runner.mu.Lock()
	assert.False(t, runner.overlap)
	runner.mu.Unlock()
	mu.Lock()
	assert.GreaterOrEqual(t, len(results), 2)
	mu.Unlock()
}

func TestRun_PeriodicRescan(t *testing.T) {
	cfg := &config.Config{
		Targets: []*config.Target{{Name: "main", Sources: []string{t.TempDir()}, Destination: t.TempDir()}},
		Watch:   config.WatchConfig{Debounce: 10 * time.Millisecond, RescanInterval: 50 * time.Millisecond},
	}
	runner := &countingRunner{active: map[string]bool{}}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Run(ctx, cfg, runner, Options{})
	}()

	require.Eventually(t, func() bool { return runner.count("main") >= 3 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
