package metrics

import "time"

// OutcomeLabel enumerates final build outcomes for counters.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomeUpToDate OutcomeLabel = "up_to_date"
	OutcomeFailed   OutcomeLabel = "failed"
	OutcomeCanceled OutcomeLabel = "canceled"
)

// Recorder defines observability hooks for builds, rounds and compiler invocations.
// Implementations may forward to Prometheus or anything else; NoopRecorder is the
// default so callers never need nil checks.
type Recorder interface {
	ObserveBuildDuration(target string, d time.Duration)
	IncBuildOutcome(target string, outcome OutcomeLabel)
	ObserveRounds(target string, rounds int)
	AddTainted(reason string, n int)
	ObserveInvocationDuration(d time.Duration, success bool)
	SetQueueDepth(n int)
	SetActiveInvocations(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(string, time.Duration)    {}
func (NoopRecorder) IncBuildOutcome(string, OutcomeLabel)          {}
func (NoopRecorder) ObserveRounds(string, int)                     {}
func (NoopRecorder) AddTainted(string, int)                        {}
func (NoopRecorder) ObserveInvocationDuration(time.Duration, bool) {}
func (NoopRecorder) SetQueueDepth(int)                             {}
func (NoopRecorder) SetActiveInvocations(int)                      {}
