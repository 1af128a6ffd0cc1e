package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "incbuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	buildDuration      *prom.HistogramVec
	buildOutcome       *prom.CounterVec
	rounds             *prom.HistogramVec
	tainted            *prom.CounterVec
	invocationDuration *prom.HistogramVec
	queueDepth         prom.Gauge
	activeInvocations  prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration per target",
			Buckets:   prom.DefBuckets,
		}, []string{"target"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"target", "outcome"})
		pr.rounds = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_rounds",
			Help:      "Compilation rounds needed to reach the fixpoint",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		}, []string{"target"})
		pr.tainted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tainted_packages_total",
			Help:      "Packages tainted for recompilation by reason",
		}, []string{"reason"})
		pr.invocationDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "compiler_invocation_duration_seconds",
			Help:      "Duration of individual compiler invocations",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queue_depth",
			Help:      "Invocations waiting for a worker",
		})
		pr.activeInvocations = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_active_invocations",
			Help:      "Invocations currently running",
		})
		reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.rounds, pr.tainted,
			pr.invocationDuration, pr.queueDepth, pr.activeInvocations)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(target string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(target string, outcome OutcomeLabel) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(target, string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveRounds(target string, rounds int) {
	if p == nil || p.rounds == nil {
		return
	}
	p.rounds.WithLabelValues(target).Observe(float64(rounds))
}

func (p *PrometheusRecorder) AddTainted(reason string, n int) {
	if p == nil || p.tainted == nil || n <= 0 {
		return
	}
	p.tainted.WithLabelValues(reason).Add(float64(n))
}

func (p *PrometheusRecorder) ObserveInvocationDuration(d time.Duration, success bool) {
	if p == nil || p.invocationDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.invocationDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetActiveInvocations(n int) {
	if p == nil || p.activeInvocations == nil {
		return
	}
	p.activeInvocations.Set(float64(n))
}
