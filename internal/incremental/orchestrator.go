// Package incremental decides which packages to recompile and drives the
// compilation rounds until no public API change reaches an untainted dependent.
//
// A build moves through Scanning, Tainting and Compiling, looping back to Tainting
// after every round, and ends in Committed or Failed. The persisted build state is
// only replaced in Committed.
package incremental

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/driver"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/metrics"
	"git.home.luguber.info/inful/incbuild/internal/pubapi"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// Submitter runs one compiler invocation and blocks until it has a result.
type Submitter interface {
	Submit(ctx context.Context, req driver.Request) (*driver.Result, error)
}

// RoundObserver is told about every round. Errors are logged, never fatal.
type RoundObserver interface {
	RoundStarted(ctx context.Context, buildID string, round int, taint map[string]string) error
	RoundCompleted(ctx context.Context, buildID string, round int, outcome driver.Outcome, d time.Duration) error
}

// ResourceFunc materialises resource outputs before the first tainting pass and
// returns them grouped by package.
type ResourceFunc func(ctx context.Context, prev *buildstate.State) (map[string][]buildstate.Artifact, error)

// Request describes one incremental build of a target.
type Request struct {
	BuildID   string
	Target    string
	Sources   []Source
	Flags     []string
	DestDir   string
	HeaderDir string

	// Libraries maps every library input to its content digest. A difference from
	// the recorded digests retaints every package with an external dependency.
	Libraries map[string]string

	// Resources is optional.
	Resources ResourceFunc
}

// Result summarises a build.
type Result struct {
	BuildID     string
	Phase       Phase
	Rounds      int
	Compiled    []string
	Taint       map[string]string
	Diagnostics []compiler.Diagnostic
	Committed   bool
	UpToDate    bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithObserver registers a round observer.
func WithObserver(obs RoundObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// Orchestrator runs incremental builds against one state store.
type Orchestrator struct {
	store    *buildstate.Store
	pool     Submitter
	logger   *slog.Logger
	recorder metrics.Recorder
	observer RoundObserver
}

// New returns an orchestrator committing to store and compiling through pool.
func New(store *buildstate.Store, pool Submitter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		pool:     pool,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// build is the mutable working set of one Build call.
type build struct {
	req    Request
	prev   *buildstate.State
	report *scanReport
	phase  *phaseTracker
	logger *slog.Logger

	inTree   sets.Set[string]
	linkable []string

	// Latest known value per package, seeded from prev and replaced by every round.
	apis      map[string]pubapi.PackageAPI
	edges     map[string]map[string]buildstate.EdgeKind
	artifacts map[string]sets.Set[string]
	externals map[string]pubapi.PackageAPI

	resources map[string][]buildstate.Artifact
	compiled  sets.Set[string]
	produced  sets.Set[string]
	diags     []compiler.Diagnostic
}

// Build runs one incremental build. The returned result is never nil; on error its
// Phase is PhaseFailed and the persisted state is unchanged.
func (o *Orchestrator) Build(ctx context.Context, req Request) (*Result, error) {
	logger := o.logger.With(logfields.BuildID(req.BuildID), logfields.Target(req.Target))
	b := &build{
		req:      req,
		logger:   logger,
		compiled: sets.New[string](),
		produced: sets.New[string](),
	}
	b.phase = newPhaseTracker(func(from, to Phase) {
		logger.Debug("Phase transition", "from", string(from), "to", string(to))
	})
	res := &Result{BuildID: req.BuildID}

	err := o.run(ctx, b, res)
	if err != nil {
		_ = b.phase.transition(PhaseFailed)
		logger.Error("Build failed", logfields.Round(res.Rounds), logfields.Error(err))
	}
	res.Phase = b.phase.current
	res.Compiled = sets.Sorted(b.compiled)
	res.Diagnostics = b.diags
	if b.report != nil {
		res.Taint = b.report.taint.Reasons()
	}
	o.recorder.ObserveRounds(req.Target, res.Rounds)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, b *build, res *Result) error {
	b.prev = o.store.Load()

	if b.req.Resources != nil {
		resources, err := b.req.Resources(ctx, b.prev)
		if err != nil {
			return errors.FileSystemError("materialise resources", err)
		}
		b.resources = resources
	}

	b.report = scan(b.prev, b.req, b.logger)
	b.seed()
	if err := b.phase.transition(PhaseTainting); err != nil {
		return errors.InternalError("phase", err)
	}
	o.recordTaint(b.report.taint.Reasons())

	maxRounds := max(len(b.report.current), 1)
	pending := b.report.taint.Len()
	for pending > 0 {
		res.Rounds++
		if res.Rounds > maxRounds {
			return errors.InternalError(fmt.Sprintf("no fixpoint after %d rounds", maxRounds), nil)
		}
		if err := b.phase.transition(PhaseCompiling); err != nil {
			return errors.InternalError("phase", err)
		}
		newly, err := o.round(ctx, b, res.Rounds)
		if err != nil {
			return err
		}
		if err := b.phase.transition(PhaseTainting); err != nil {
			return errors.InternalError("phase", err)
		}
		o.recordTaint(newly)
		pending = len(newly)
	}

	if !b.report.dirty && b.report.taint.Len() == 0 && !b.resourcesChanged() {
		res.UpToDate = true
		b.logger.Info("Build up to date")
		return b.phase.transition(PhaseCommitted)
	}

	next, err := b.nextState()
	if err != nil {
		return err
	}
	if err := o.store.Commit(next); err != nil {
		return err
	}
	res.Committed = true
	b.logger.Info("Build committed",
		logfields.Packages(len(next.Packages)),
		slog.Int("compiled", len(b.compiled)),
		logfields.Round(res.Rounds))
	return b.phase.transition(PhaseCommitted)
}

// seed initialises the per-package working values from the previous state.
func (b *build) seed() {
	b.inTree = sets.New[string]()
	for name, srcs := range b.report.current {
		b.inTree.Add(name)
		for path := range srcs {
			b.linkable = append(b.linkable, path)
		}
	}
	slices.Sort(b.linkable)

	b.apis = map[string]pubapi.PackageAPI{}
	b.edges = map[string]map[string]buildstate.EdgeKind{}
	b.artifacts = map[string]sets.Set[string]{}
	for name, p := range b.prev.Packages {
		b.apis[name] = p.API
		b.edges[name] = p.Dependencies
		s := sets.New[string]()
		for path, a := range p.Artifacts {
			if a.Kind != buildstate.ArtifactResource {
				s.Add(path)
			}
		}
		b.artifacts[name] = s
	}
	b.externals = map[string]pubapi.PackageAPI{}
}

// round compiles every tainted package once and returns the packages newly tainted
// by API changes, with their reasons.
func (o *Orchestrator) round(ctx context.Context, b *build, n int) (map[string]string, error) {
	logger := b.logger.With(logfields.Round(n))
	tainted := b.report.taint.Packages()

	roundTaint := make(map[string]string, len(tainted))
	for _, pkg := range tainted {
		roundTaint[pkg] = b.report.taint.Reason(pkg)
	}
	o.notify(ctx, logger, func() error {
		return o.observer.RoundStarted(ctx, b.req.BuildID, n, roundTaint)
	})

	var explicit []string
	for _, pkg := range tainted {
		for path := range b.artifacts[pkg] {
			if err := removeArtifact(path); err != nil {
				return nil, errors.FileSystemError("delete stale artifact", err)
			}
		}
		b.artifacts[pkg] = sets.New[string]()
		explicit = append(explicit, sortedKeys(b.report.current[pkg])...)
	}
	logger.Info("Compiling round", logfields.Packages(len(tainted)), logfields.Sources(len(explicit)))

	start := time.Now()
	result, err := o.pool.Submit(ctx, driver.Request{
		ID:        fmt.Sprintf("%s-r%d", b.req.BuildID, n),
		Explicit:  explicit,
		Linkable:  b.linkable,
		InTree:    b.inTree,
		Flags:     b.req.Flags,
		DestDir:   b.req.DestDir,
		HeaderDir: b.req.HeaderDir,
	})
	if err != nil {
		result = driver.FailedResult(err)
	}
	b.diags = append(b.diags, result.Diagnostics...)
	o.notify(ctx, logger, func() error {
		return o.observer.RoundCompleted(ctx, b.req.BuildID, n, result.Outcome, time.Since(start))
	})

	if result.Outcome == driver.OutcomeNothingToCompile {
		return nil, errors.InternalError("tainted packages have no sources", result.Err)
	}
	if result.Failed() {
		return nil, errors.RoundFailed(n, result.Err)
	}

	changed := sets.New[string]()
	for _, pkg := range tainted {
		b.compiled.Add(pkg)
		api := result.APIs[pkg]
		if !pubapi.Equal(b.apis[pkg], api) {
			changed.Add(pkg)
			logger.Debug("Public API changed", logfields.Package(pkg))
		}
		b.apis[pkg] = api
		b.edges[pkg] = result.Dependencies[pkg]
	}
	for pkg, paths := range result.Artifacts {
		b.artifacts[pkg] = paths
		b.produced.Add(pkg)
	}
	for pkg, api := range result.ExternalAPIs {
		if b.externalChanged(pkg, api) {
			changed.Add(pkg)
			logger.Debug("Library API changed", logfields.Package(pkg))
		}
		cur, ok := b.externals[pkg]
		if !ok {
			cur = pubapi.PackageAPI{}
			b.externals[pkg] = cur
		}
		maps.Copy(cur, api)
	}
	for pkg := range b.report.vanished {
		changed.Delete(pkg)
	}

	newly := map[string]string{}
	for _, dep := range sets.Sorted(changed) {
		for _, pkg := range b.dependents(dep) {
			if b.report.taint.Add(pkg, APIChangeReason(dep)) {
				newly[pkg] = APIChangeReason(dep)
			}
		}
	}
	if len(newly) > 0 {
		logger.Info("API changes reached untainted dependents", logfields.Packages(len(newly)))
	}
	return newly, nil
}

// externalChanged compares the observed library types with the ones recorded last
// time. Types seen for the first time are not a change.
func (b *build) externalChanged(pkg string, api pubapi.PackageAPI) bool {
	known, ok := b.prev.ExternalAPIs[pkg]
	if !ok {
		return false
	}
	for typ, lines := range api {
		old, seen := known[typ]
		if seen && !slices.Equal(old, lines) {
			return true
		}
	}
	return false
}

// dependents returns the live packages holding an edge of either kind to dep.
func (b *build) dependents(dep string) []string {
	var out []string
	for pkg := range b.report.current {
		if _, ok := b.edges[pkg][dep]; ok {
			out = append(out, pkg)
		}
	}
	slices.Sort(out)
	return out
}

func (o *Orchestrator) recordTaint(reasons map[string]string) {
	for kind, n := range countByKind(reasons) {
		o.recorder.AddTainted(kind, n)
	}
}

func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, fn func() error) {
	if o.observer == nil || ctx.Err() != nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn("Round observer failed", logfields.Error(err))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
