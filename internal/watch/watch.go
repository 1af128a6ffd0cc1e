// Package watch rebuilds targets when their sources change: file events are
// debounced per target and a periodic rescan catches anything the watcher missed.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/build"
	"git.home.luguber.info/inful/incbuild/internal/config"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
)

// Options configures a watch session.
type Options struct {
	Logger *slog.Logger

	// OnBuild is called after every build, from the target's own goroutine.
	OnBuild func(target string, res *build.Result, err error)
}

// Run builds every target once, then rebuilds targets whenever their sources
// change, until ctx is done. Builds of one target never overlap.
func Run(ctx context.Context, cfg *config.Config, runner build.Runner, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debouncers := map[string]*Debouncer{}
	roots := map[string][]string{}
	for _, t := range cfg.Targets {
		name := t.Name
		d, err := NewDebouncer(DebouncerConfig{QuietWindow: cfg.Watch.Debounce}, func(ctx context.Context, tr Trigger) {
			logger.Info("Rebuilding after changes", logfields.Target(name),
				slog.Int("changes", tr.Count), logfields.Reason(tr.LastReason), slog.String("cause", tr.Cause))
			runOnce(ctx, cfg, runner, name, opts, logger)
		})
		if err != nil {
			return err
		}
		debouncers[name] = d
		for _, root := range t.Sources {
			roots[root] = append(roots[root], name)
		}
	}

	w, err := NewWatcher(roots, func(target, path string) {
		debouncers[target].Request(path)
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	sched, err := NewScheduler()
	if err != nil {
		return err
	}
	if cfg.Watch.RescanInterval > 0 {
		if _, err := sched.ScheduleEvery("rescan", cfg.Watch.RescanInterval, func() {
			for _, d := range debouncers {
				d.Request("rescan")
			}
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("Failed to stop scheduler", logfields.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for name, d := range debouncers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runOnce(ctx, cfg, runner, name, opts, logger)
			d.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	logger.Info("Watching sources", slog.Int("targets", len(cfg.Targets)),
		slog.Duration("debounce", cfg.Watch.Debounce),
		slog.Duration("rescan", cfg.Watch.RescanInterval))
	<-ctx.Done()
	_ = w.Close()
	wg.Wait()
	return nil
}

func runOnce(ctx context.Context, cfg *config.Config, runner build.Runner, target string, opts Options, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	res, err := runner.Run(ctx, build.Request{Config: cfg, Targets: []string{target}})
	if err != nil {
		logger.Error("Build failed", logfields.Target(target), logfields.Error(err))
	} else {
		logger.Info("Build finished", logfields.Target(target),
			slog.String("status", string(res.Status)),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	}
	if opts.OnBuild != nil {
		opts.OnBuild(target, res, err)
	}
}
