package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/driver"
)

type runnerFunc func(ctx context.Context, req driver.Request) *driver.Result

func (f runnerFunc) Compile(ctx context.Context, req driver.Request) *driver.Result { return f(ctx, req) }

func okResult() *driver.Result { return &driver.Result{Outcome: driver.OutcomeSuccess} }

func blockUntilCanceled(ctx context.Context, _ driver.Request) *driver.Result {
	<-ctx.Done()
	return driver.FailedResult(ctx.Err())
}

func startPool(t *testing.T, workers int, r Runner, opts ...Option) *Pool {
	t.Helper()
	p := New(0, workers, r, opts...)
	p.Start(t.Context())
	return p
}

func TestPool_SubmitBlocksUntilResult(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	p := startPool(t, 2, runnerFunc(func(_ context.Context, req driver.Request) *driver.Result {
		mu.Lock()
		seen = append(seen, req.Explicit...)
		mu.Unlock()
		return okResult()
	}))
	defer func() { _ = p.Shutdown(time.Second) }()

	res, err := p.Submit(t.Context(), driver.Request{ID: "one", Explicit: []string{"A.toy"}})
	require.NoError(t, err)
	assert.Equal(t, driver.OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{"A.toy"}, seen)

	job, ok := p.JobSnapshot("one")
	require.True(t, ok)
	assert.Equal(t, JobStatusCompleted, job.Status)
}

func TestPool_BoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	p := startPool(t, 2, runnerFunc(func(context.Context, driver.Request) *driver.Result {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return okResult()
	}))
	defer func() { _ = p.Shutdown(time.Second) }()

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Submit(t.Context(), driver.Request{Explicit: []string{fmt.Sprintf("S%d.toy", i)}})
			assert.NoError(t, err)
			assert.False(t, res.Failed())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_TimeoutIsInvocationFailure(t *testing.T) {
	p := startPool(t, 1, runnerFunc(blockUntilCanceled), WithTimeout(30*time.Millisecond))
	defer func() { _ = p.Shutdown(time.Second) }()

	res, err := p.Submit(t.Context(), driver.Request{ID: "slow", Explicit: []string{"A.toy"}})
	require.NoError(t, err)
	assert.True(t, res.Failed())

	job, ok := p.JobSnapshot("slow")
	require.True(t, ok)
	assert.Equal(t, JobStatusFailed, job.Status)
}

func TestPool_PanicBecomesFailure(t *testing.T) {
	p := startPool(t, 1, runnerFunc(func(context.Context, driver.Request) *driver.Result { panic("boom") }))
	defer func() { _ = p.Shutdown(time.Second) }()

	res, err := p.Submit(t.Context(), driver.Request{Explicit: []string{"A.toy"}})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err.Error(), "boom")
}

func TestPool_GracefulShutdownWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	p := startPool(t, 1, runnerFunc(func(context.Context, driver.Request) *driver.Result {
		<-release
		return okResult()
	}))

	got := make(chan *driver.Result, 1)
	go func() {
		res, _ := p.Submit(context.Background(), driver.Request{Explicit: []string{"A.toy"}})
		got <- res
	}()
	require.Eventually(t, func() bool { return len(p.GetActiveJobs()) == 1 }, time.Second, 5*time.Millisecond)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- p.Shutdown(5 * time.Second) }()
	require.Eventually(t, func() bool {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.closed
	}, time.Second, 5*time.Millisecond)
	_, err := p.Submit(context.Background(), driver.Request{Explicit: []string{"B.toy"}})
	assert.ErrorIs(t, err, ErrPoolClosed)

	close(release)
	assert.NoError(t, <-shutdownErr)
	assert.False(t, (<-got).Failed())
}

func TestPool_ForcedShutdownFailsInFlightAndQueued(t *testing.T) {
	p := startPool(t, 1, runnerFunc(blockUntilCanceled))

	results := make(chan *driver.Result, 2)
	for _, name := range []string{"A.toy", "B.toy"} {
		go func() {
			res, err := p.Submit(context.Background(), driver.Request{Explicit: []string{name}})
			if err != nil {
				res = driver.FailedResult(err)
			}
			results <- res
		}()
	}
	require.Eventually(t, func() bool { return len(p.GetActiveJobs()) == 1 && p.Length() == 1 },
		time.Second, 5*time.Millisecond)

	err := p.Shutdown(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrForcedShutdown)
	for range 2 {
		assert.True(t, (<-results).Failed())
	}
}

func TestPool_AbandonedJobIsNotStarted(t *testing.T) {
	var called atomic.Bool
	p := New(0, 1, runnerFunc(func(context.Context, driver.Request) *driver.Result {
		called.Store(true)
		return okResult()
	}))
	p.ctx, p.cancel = context.WithCancel(t.Context())
	defer p.cancel()

	job := &Job{
		ID:        "late",
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		caller:    t.Context(),
		done:      make(chan *driver.Result, 1),
	}
	res := p.abandon(job)
	require.True(t, res.Failed())

	p.processJob(job, "worker-0")

	assert.False(t, called.Load())
	assert.Empty(t, p.GetActiveJobs())
	snap, ok := p.JobSnapshot("late")
	require.True(t, ok)
	assert.Equal(t, JobStatusCanceled, snap.Status)
	assert.Nil(t, snap.StartedAt)
}
