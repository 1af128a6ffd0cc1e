package commands

import (
	"context"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/incbuild/internal/build"
	"git.home.luguber.info/inful/incbuild/internal/build/queue"
	"git.home.luguber.info/inful/incbuild/internal/compiler"
	"git.home.luguber.info/inful/incbuild/internal/config"
	"git.home.luguber.info/inful/incbuild/internal/driver"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/eventstore"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/metrics"
)

// runtime holds the long-lived collaborators of one command run.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *queue.Pool
	registry *prom.Registry
	history  *eventstore.SQLiteStore
	service  *build.Service
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	if cfg.Compiler.Command == "" {
		return nil, errors.ConfigRequired("compiler.command")
	}
	rt := &runtime{cfg: cfg, logger: logger}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled() {
		rt.registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(rt.registry)
	}

	exec := compiler.NewExecCompiler(cfg.Compiler.Command, cfg.Compiler.Args...)
	exec.Env = cfg.Compiler.Env
	exec.Logger = logger
	rt.pool = queue.New(cfg.QueueSize, cfg.Workers, driver.New(exec, logger),
		queue.WithTimeout(cfg.Compiler.Timeout),
		queue.WithRecorder(recorder),
		queue.WithLogger(logger))
	rt.pool.Start(ctx)

	opts := []build.Option{build.WithRecorder(recorder), build.WithLogger(logger)}
	if cfg.History.Path != "" {
		store, err := eventstore.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			_ = rt.pool.Shutdown(cfg.ShutdownGrace)
			return nil, errors.FileSystemError("open build history", err)
		}
		rt.history = store
		opts = append(opts, build.WithHistory(eventstore.NewRecorder(store)))
	}
	rt.service = build.NewService(rt.pool, opts...)
	return rt, nil
}

// writeMetrics refreshes the textfile export when one is configured.
func (rt *runtime) writeMetrics() {
	if rt.registry == nil || rt.cfg.Metrics.Textfile == "" {
		return
	}
	if err := metrics.WriteTextfile(rt.cfg.Metrics.Textfile, rt.registry); err != nil {
		rt.logger.Warn("Failed to write metrics textfile", logfields.Path(rt.cfg.Metrics.Textfile), logfields.Error(err))
	}
}

// Close drains the pool within the configured grace period.
func (rt *runtime) Close() error {
	err := rt.pool.Shutdown(rt.cfg.ShutdownGrace)
	if err != nil {
		rt.logger.Warn("Invocation pool did not drain in time", logfields.Error(err))
	}
	if rt.history != nil {
		if cerr := rt.history.Close(); cerr != nil {
			rt.logger.Warn("Failed to close build history", logfields.Error(cerr))
		}
	}
	rt.writeMetrics()
	return err
}
