package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fired struct {
	mu       sync.Mutex
	triggers []Trigger
	ch       chan Trigger
}

func newFired() *fired { return &fired{ch: make(chan Trigger, 16)} }

func (f *fired) fire(_ context.Context, t Trigger) {
	f.mu.Lock()
	f.triggers = append(f.triggers, t)
	f.mu.Unlock()
	f.ch <- t
}

func (f *fired) next(t *testing.T) Trigger {
	t.Helper()
	select {
	case tr := <-f.ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for build")
		return Trigger{}
	}
}

func startDebouncer(t *testing.T, cfg DebouncerConfig, fire func(context.Context, Trigger)) *Debouncer {
	t.Helper()
	d, err := NewDebouncer(cfg, fire)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func TestDebouncer_Validation(t *testing.T) {
	_, err := NewDebouncer(DebouncerConfig{QuietWindow: time.Second}, nil)
	require.Error(t, err)
	_, err = NewDebouncer(DebouncerConfig{}, func(context.Context, Trigger) {})
	require.Error(t, err)

	d, err := NewDebouncer(DebouncerConfig{QuietWindow: time.Second}, func(context.Context, Trigger) {})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d.cfg.MaxDelay)
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	f := newFired()
	d := startDebouncer(t, DebouncerConfig{QuietWindow: 50 * time.Millisecond, MaxDelay: time.Second}, f.fire)

	for _, p := range []string{"a", "b", "c"} {
		d.Request(p)
	}
	tr := f.next(t)
	assert.Equal(t, 3, tr.Count)
	assert.Equal(t, "c", tr.LastReason)
	assert.Equal(t, "quiet", tr.Cause)

	select {
	case extra := <-f.ch:
		t.Fatalf("unexpected extra build: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_MaxDelayBoundsPostponement(t *testing.T) {
	f := newFired()
	d := startDebouncer(t, DebouncerConfig{QuietWindow: 80 * time.Millisecond, MaxDelay: 200 * time.Millisecond}, f.fire)

	stop := time.After(500 * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var tr Trigger
loop:
	for {
		select {
		case <-ticker.C:
			d.Request("tick")
		case tr = <-f.ch:
			break loop
		case <-stop:
			t.Fatal("max delay did not force a build")
		}
	}
	assert.Equal(t, "max_delay", tr.Cause)
	assert.Greater(t, tr.Count, 1)
}

func TestDebouncer_RequestsDuringBuildCauseOneFollowUp(t *testing.T) {
	release := make(chan struct{})
	f := newFired()
	first := true
	d := startDebouncer(t, DebouncerConfig{QuietWindow: 20 * time.Millisecond, MaxDelay: time.Second},
		func(ctx context.Context, tr Trigger) {
			f.fire(ctx, tr)
			if first {
				first = false
				<-release
			}
		})

	d.Request("one")
	f.next(t)
	for range 5 {
		d.Request("during")
	}
	close(release)

	tr := f.next(t)
	assert.Equal(t, 5, tr.Count)
	select {
	case extra := <-f.ch:
		t.Fatalf("unexpected extra build: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
