package build

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/buildstate"
	"git.home.luguber.info/inful/incbuild/internal/config"
	"git.home.luguber.info/inful/incbuild/internal/digest"
	"git.home.luguber.info/inful/incbuild/internal/driver"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/eventstore"
	"git.home.luguber.info/inful/incbuild/internal/incremental"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/metrics"
	"git.home.luguber.info/inful/incbuild/internal/resources"
	"git.home.luguber.info/inful/incbuild/internal/sources"
	"git.home.luguber.info/inful/incbuild/internal/util/sets"
)

// Service is the standard Runner. Every target shares the same invocation pool.
type Service struct {
	pool     incremental.Submitter
	recorder metrics.Recorder
	history  *eventstore.Recorder
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithHistory records every build into an event log.
func WithHistory(h *eventstore.Recorder) Option {
	return func(s *Service) { s.history = h }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService returns a service compiling through pool.
func NewService(pool incremental.Submitter, opts ...Option) *Service {
	s := &Service{
		pool:     pool,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run builds the selected targets concurrently. The returned error joins the errors
// of every failed target.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result := &Result{Status: StatusFailed}

	if req.Config == nil {
		return result, errors.ConfigRequired("build configuration")
	}
	targets, err := req.Config.Select(req.Targets)
	if err != nil {
		return result, err
	}
	rules, err := resources.ParseRules(req.Config.Resources)
	if err != nil {
		return result, errors.ValidationFailed("resources", err.Error())
	}

	result.Targets = make([]*TargetResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.Targets[i] = s.runTarget(ctx, t, rules)
		}()
	}
	wg.Wait()

	var errs []error
	for _, tr := range result.Targets {
		if tr.Err != nil {
			errs = append(errs, tr.Err)
		}
	}
	result.Status = combine(result.Targets)
	result.Duration = time.Since(start)
	switch len(errs) {
	case 0:
		return result, nil
	case 1:
		return result, errs[0]
	default:
		return result, stdErrors.Join(errs...)
	}
}

func (s *Service) runTarget(ctx context.Context, t *config.Target, rules resources.Rules) *TargetResult {
	start := time.Now()
	tr := &TargetResult{
		Target:      t.Name,
		BuildID:     eventstore.NewBuildID(),
		Incremental: t.Incremental(),
	}
	logger := s.logger.With(logfields.Target(t.Name), logfields.BuildID(tr.BuildID))

	tr.Err = s.execute(ctx, t, rules, tr, logger)
	tr.Duration = time.Since(start)

	switch {
	case tr.Err == nil && tr.Status == "":
		tr.Status = StatusSuccess
	case tr.Err != nil && ctx.Err() != nil:
		tr.Status = StatusCanceled
	case tr.Err != nil:
		tr.Status = StatusFailed
	}

	outcome := metrics.OutcomeSuccess
	switch tr.Status {
	case StatusUpToDate:
		outcome = metrics.OutcomeUpToDate
	case StatusFailed:
		outcome = metrics.OutcomeFailed
	case StatusCanceled:
		outcome = metrics.OutcomeCanceled
	}
	s.recorder.IncBuildOutcome(t.Name, outcome)
	s.recorder.ObserveBuildDuration(t.Name, tr.Duration)

	// History is written with a fresh context so canceled builds are still recorded.
	hctx := context.WithoutCancel(ctx)
	if tr.Err != nil {
		s.historyEvent(logger, func() error {
			return s.history.BuildFailed(hctx, tr.BuildID, tr.Rounds, tr.Err)
		})
		logger.Error("Target build failed", logfields.Error(tr.Err),
			logfields.DurationMS(float64(tr.Duration.Milliseconds())))
	} else {
		s.historyEvent(logger, func() error {
			return s.history.BuildCommitted(hctx, tr.BuildID, tr.Rounds, tr.Compiled, tr.Status == StatusUpToDate)
		})
		logger.Info("Target build finished",
			slog.String("status", string(tr.Status)),
			logfields.Round(tr.Rounds),
			slog.Int("compiled", len(tr.Compiled)),
			logfields.DurationMS(float64(tr.Duration.Milliseconds())))
	}
	return tr
}

func (s *Service) execute(ctx context.Context, t *config.Target, rules resources.Rules, tr *TargetResult, logger *slog.Logger) error {
	cache, err := digest.Open(t.StateDir, digest.WithLogger(logger))
	if err != nil {
		return errors.FileSystemError("open digest cache", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("Failed to close digest cache", logfields.Error(err))
		}
	}()

	scanner := &sources.Scanner{
		Roots:      t.Sources,
		Include:    t.Include,
		Exclude:    t.Exclude,
		Extensions: t.Extensions,
		Digests:    cache,
		Logger:     logger,
	}
	scan, err := scanner.Scan(ctx)
	if err != nil {
		return err
	}
	tr.Sources = len(scan.Sources)
	tr.Resources = len(scan.Resources)

	libs := &sources.LibraryScan{}
	if t.Incremental() {
		entries := append(slices.Clone(t.Libraries), sources.ClasspathEntries(t.CompilerFlags)...)
		if libs, err = sources.ScanLibraries(ctx, entries, cache); err != nil {
			return errors.FileSystemError("digest libraries", err)
		}
	}

	live := make(map[string]bool, len(scan.Sources)+len(scan.Resources)+len(libs.Files))
	for _, f := range scan.Sources {
		live[f.Path] = true
	}
	for _, f := range scan.Resources {
		live[f.Path] = true
	}
	for _, p := range libs.Files {
		live[p] = true
	}
	if err := cache.Forget(live); err != nil {
		logger.Warn("Failed to prune digest cache", logfields.Error(err))
	}

	if t.ExpectedSources != "" {
		expected, err := readExpected(t.ExpectedSources)
		if err != nil {
			return err
		}
		if err := checkExpected(expected, scan.Paths()); err != nil {
			return err
		}
	}

	s.historyEvent(logger, func() error {
		return s.history.BuildStarted(ctx, tr.BuildID, t.Name, t.Incremental(), tr.Sources)
	})

	copier := resources.NewCopier(t.Destination, rules, logger)
	if !t.Incremental() {
		return s.oneShot(ctx, t, scan, copier, tr, logger)
	}
	return s.stateful(ctx, t, scan, libs, copier, tr, logger)
}

func (s *Service) stateful(ctx context.Context, t *config.Target, scan *sources.Result, libs *sources.LibraryScan, copier *resources.Copier, tr *TargetResult, logger *slog.Logger) error {
	opts := []incremental.Option{
		incremental.WithLogger(s.logger),
		incremental.WithRecorder(s.recorder),
	}
	if s.history != nil {
		opts = append(opts, incremental.WithObserver(s.history))
	}
	orch := incremental.New(buildstate.NewStore(t.StateDir, buildstate.WithLogger(logger)), s.pool, opts...)

	res, err := orch.Build(ctx, incremental.Request{
		BuildID:   tr.BuildID,
		Target:    t.Name,
		Sources:   toSources(scan.Sources),
		Flags:     t.CompilerFlags,
		Libraries: libs.Digests,
		DestDir:   t.Destination,
		HeaderDir: t.HeaderDir,
		Resources: func(ctx context.Context, _ *buildstate.State) (map[string][]buildstate.Artifact, error) {
			return copier.Apply(ctx, scan.Resources)
		},
	})
	tr.Rounds = res.Rounds
	tr.Compiled = res.Compiled
	tr.Taint = res.Taint
	tr.Diagnostics = res.Diagnostics
	if err == nil && res.UpToDate {
		tr.Status = StatusUpToDate
	}
	return err
}

// oneShot compiles every source once and persists nothing.
func (s *Service) oneShot(ctx context.Context, t *config.Target, scan *sources.Result, copier *resources.Copier, tr *TargetResult, logger *slog.Logger) error {
	if _, err := copier.Apply(ctx, scan.Resources); err != nil {
		return errors.FileSystemError("materialise resources", err)
	}
	if len(scan.Sources) == 0 {
		logger.Info("No sources to compile")
		return nil
	}

	paths := scan.Paths()
	inTree := sets.New[string]()
	for _, f := range scan.Sources {
		inTree.Add(f.Package)
	}
	tr.Rounds = 1
	s.historyEvent(logger, func() error {
		return s.history.RoundStarted(ctx, tr.BuildID, 1, nil)
	})
	start := time.Now()
	res, err := s.pool.Submit(ctx, driver.Request{
		ID:        tr.BuildID + "-r1",
		Explicit:  paths,
		Linkable:  paths,
		InTree:    inTree,
		Flags:     t.CompilerFlags,
		DestDir:   t.Destination,
		HeaderDir: t.HeaderDir,
	})
	if err != nil {
		res = driver.FailedResult(err)
	}
	s.historyEvent(logger, func() error {
		return s.history.RoundCompleted(ctx, tr.BuildID, 1, res.Outcome, time.Since(start))
	})
	tr.Diagnostics = res.Diagnostics
	if res.Failed() {
		return errors.RoundFailed(1, res.Err)
	}
	tr.Compiled = sets.Sorted(inTree)
	return nil
}

func (s *Service) historyEvent(logger *slog.Logger, fn func() error) {
	if s.history == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn("Failed to record build history", logfields.Error(err))
	}
}

func toSources(files []sources.File) []incremental.Source {
	out := make([]incremental.Source, 0, len(files))
	for _, f := range files {
		out = append(out, incremental.Source{
			Package: f.Package,
			Source: buildstate.Source{
				Path:    f.Path,
				ModTime: f.ModTime,
				Size:    f.Size,
				Digest:  f.Digest,
			},
		})
	}
	return out
}
