// Package queue runs compiler invocations on a fixed pool of workers.
//
// Submit blocks the caller until its invocation has finished. Shutdown first stops
// accepting work and waits a bounded grace period, then cancels everything still
// queued or running; canceled invocations report a failed result.
package queue

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/driver"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/metrics"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown has begun.
	ErrPoolClosed = stdErrors.New("invocation pool is shut down")

	// ErrForcedShutdown is returned by Shutdown when the grace period ran out.
	ErrForcedShutdown = stdErrors.New("invocation pool shut down forcibly")
)

// JobStatus represents the current status of an invocation job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Job is one submitted invocation.
type Job struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Sources     int           `json:"sources"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`

	req    driver.Request
	caller context.Context
	done   chan *driver.Result
}

// Runner executes one invocation. *driver.Driver implements it.
type Runner interface {
	Compile(ctx context.Context, req driver.Request) *driver.Result
}

// Option configures a Pool.
type Option func(*Pool)

// WithTimeout bounds every invocation; expiry is reported as invocation failure.
func WithTimeout(d time.Duration) Option { return func(p *Pool) { p.timeout = d } }

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pool) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pool manages the queue of invocations and the workers running them.
type Pool struct {
	jobs        chan *Job
	workers     int
	maxSize     int
	timeout     time.Duration
	mu          sync.RWMutex
	closed      bool
	active      map[string]*Job
	history     []*Job
	historySize int
	pending     sync.WaitGroup
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	runner      Runner
	seq         atomic.Uint64

	recorder metrics.Recorder
	logger   *slog.Logger
}

// New creates a pool. workers <= 0 means runtime.NumCPU(); maxSize <= 0 means
// twice the worker count.
func New(maxSize, workers int, runner Runner, opts ...Option) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if maxSize <= 0 {
		maxSize = 2 * workers
	}
	if runner == nil {
		panic("queue.New: runner is required")
	}
	p := &Pool{
		jobs:        make(chan *Job, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		active:      make(map[string]*Job),
		history:     make([]*Job, 0),
		historySize: 50,
		runner:      runner,
		recorder:    metrics.NoopRecorder{},
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Workers returns the worker count.
func (p *Pool) Workers() int { return p.workers }

// Start begins processing jobs with the configured number of workers.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Info("Starting invocation pool", "workers", p.workers, "max_size", p.maxSize)
	for i := range p.workers {
		p.wg.Add(1)
		go p.worker(fmt.Sprintf("worker-%d", i))
	}
}

// Submit queues req and blocks until its result is available. The returned error
// is non-nil only when the job could not be queued at all.
func (p *Pool) Submit(ctx context.Context, req driver.Request) (*driver.Result, error) {
	p.mu.RLock()
	if p.closed || p.ctx == nil {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.pending.Add(1)
	p.mu.RUnlock()
	defer p.pending.Done()

	if req.ID == "" {
		req.ID = fmt.Sprintf("inv-%d", p.seq.Add(1))
	}
	job := &Job{
		ID:        req.ID,
		Status:    JobStatusQueued,
		Sources:   len(req.Explicit),
		CreatedAt: time.Now(),
		req:       req,
		caller:    ctx,
		done:      make(chan *driver.Result, 1),
	}

	select {
	case p.jobs <- job:
		p.recorder.SetQueueDepth(len(p.jobs))
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}

	select {
	case res := <-job.done:
		return res, nil
	case <-p.ctx.Done():
		if p.started(job) {
			return <-job.done, nil
		}
		return p.abandon(job), nil
	}
}

func (p *Pool) started(job *Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return job.Status != JobStatusQueued
}

// abandon finishes a job no worker will pick up. The result channel has room for
// exactly one value, so whichever side finishes first wins and the other is a no-op.
func (p *Pool) abandon(job *Job) *driver.Result {
	res := canceledResult()
	p.finish(job, res, JobStatusCanceled)
	select {
	case r := <-job.done:
		return r
	default:
		return res
	}
}

func canceledResult() *driver.Result {
	return driver.FailedResult(errors.Wrap(context.Canceled, errors.CategoryRuntime, errors.SeverityError,
		"invocation canceled by pool shutdown"))
}

// Shutdown stops accepting work, waits up to grace for submitted invocations and
// then cancels whatever is still queued or running.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if p.cancel == nil {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(drained)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-drained:
		p.cancel()
		p.wg.Wait()
		p.logger.Info("Invocation pool stopped")
		return nil
	case <-timer.C:
	}

	p.logger.Warn("Grace period expired, canceling invocations", "grace", grace)
	p.cancel()
drain:
	for {
		select {
		case job := <-p.jobs:
			p.finish(job, canceledResult(), JobStatusCanceled)
		default:
			break drain
		}
	}
	p.wg.Wait()
	<-drained
	return ErrForcedShutdown
}

// Length returns the current queue length.
func (p *Pool) Length() int {
	return len(p.jobs)
}

// GetActiveJobs returns a copy of the currently running jobs.
func (p *Pool) GetActiveJobs() []*Job {
	p.mu.RLock()
	defer p.mu.RUnlock()

	active := make([]*Job, 0, len(p.active))
	for _, job := range p.active {
		cp := *job
		active = append(active, &cp)
	}
	return active
}

// JobSnapshot returns a copy of a job (active first, then history).
func (p *Pool) JobSnapshot(id string) (*Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if j, ok := p.active[id]; ok {
		cp := *j
		return &cp, true
	}
	for _, j := range p.history {
		if j.ID == id {
			cp := *j
			return &cp, true
		}
	}
	return nil, false
}

func (p *Pool) worker(workerID string) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.recorder.SetQueueDepth(len(p.jobs))
			p.processJob(job, workerID)
		}
	}
}

func (p *Pool) processJob(job *Job, workerID string) {
	if p.ctx.Err() != nil {
		p.finish(job, canceledResult(), JobStatusCanceled)
		return
	}

	jobCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(job.caller, cancel)
	defer stop()
	if p.timeout > 0 {
		var cancelTimeout context.CancelFunc
		jobCtx, cancelTimeout = context.WithTimeout(jobCtx, p.timeout)
		defer cancelTimeout()
	}

	startTime := time.Now()
	p.mu.Lock()
	if job.CompletedAt != nil {
		// Abandoned by Submit between dequeue and start.
		p.mu.Unlock()
		return
	}
	job.StartedAt = &startTime
	job.Status = JobStatusRunning
	p.active[job.ID] = job
	p.recorder.SetActiveInvocations(len(p.active))
	p.mu.Unlock()

	p.logger.Debug("Invocation started", "invocation", job.ID, logfields.Worker(workerID), logfields.Sources(job.Sources))
	res := p.run(jobCtx, job)

	status := JobStatusCompleted
	switch {
	case p.ctx.Err() != nil:
		status = JobStatusCanceled
	case res.Failed():
		status = JobStatusFailed
	}
	p.recorder.ObserveInvocationDuration(time.Since(startTime), !res.Failed())
	p.finish(job, res, status)
}

// run executes the invocation, turning a panic or a nil result into a failed one.
func (p *Pool) run(ctx context.Context, job *Job) (res *driver.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = driver.FailedResult(errors.InternalError("invocation panicked", fmt.Errorf("%v", r)))
		}
	}()
	res = p.runner.Compile(ctx, job.req)
	if res == nil {
		res = driver.FailedResult(errors.InternalError("invocation returned no result", nil))
	}
	if ctx.Err() != nil && !res.Failed() {
		res = driver.FailedResult(errors.Wrap(ctx.Err(), errors.CategoryRuntime, errors.SeverityError, "invocation canceled"))
	}
	return res
}

func (p *Pool) finish(job *Job, res *driver.Result, status JobStatus) {
	endTime := time.Now()
	p.mu.Lock()
	if job.CompletedAt != nil {
		p.mu.Unlock()
		return
	}
	job.CompletedAt = &endTime
	if job.StartedAt != nil {
		job.Duration = endTime.Sub(*job.StartedAt)
	}
	delete(p.active, job.ID)
	p.recorder.SetActiveInvocations(len(p.active))
	job.Status = status
	if res.Err != nil {
		job.Error = res.Err.Error()
	}
	p.addToHistory(job)
	p.mu.Unlock()

	job.done <- res
}

func (p *Pool) addToHistory(job *Job) {
	p.history = append(p.history, job)
	if len(p.history) > p.historySize {
		copy(p.history, p.history[len(p.history)-p.historySize:])
		p.history = p.history[:p.historySize]
	}
}
