package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/build"
	"git.home.luguber.info/inful/incbuild/internal/logfields"
	"git.home.luguber.info/inful/incbuild/internal/metrics"
	"git.home.luguber.info/inful/incbuild/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	TargetFlags
	Debounce time.Duration `help:"Quiet period before a rebuild (default 300ms)"`
}

func (w *WatchCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root, &w.TargetFlags)
	if err != nil {
		return err
	}
	if w.Debounce > 0 {
		cfg.Watch.Debounce = w.Debounce
	}
	if len(w.Target) > 0 {
		selected, err := cfg.Select(w.Target)
		if err != nil {
			return err
		}
		cfg.Targets = selected
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	rt, err := newRuntime(context.WithoutCancel(ctx), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if cfg.Metrics.Listen != "" && rt.registry != nil {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsMux(rt),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics", slog.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", logfields.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = watch.Run(ctx, cfg, rt.service, watch.Options{
		Logger: logger,
		OnBuild: func(_ string, res *build.Result, _ error) {
			printResult(os.Stdout, os.Stderr, res)
			rt.writeMetrics()
		},
	})
	logger.Info("Watch stopped")
	return err
}

func metricsMux(rt *runtime) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(rt.registry))
	return mux
}
