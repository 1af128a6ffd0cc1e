package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/build"
	"git.home.luguber.info/inful/incbuild/internal/compiler"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	TargetFlags
}

func (b *BuildCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root, &b.TargetFlags)
	if err != nil {
		return err
	}
	logger := slog.Default()
	rt, err := newRuntime(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	// A signal drains the pool: running invocations get the grace period, then
	// everything left fails its round and no state is committed.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCtx.Done():
			logger.Warn("Shutdown requested, draining compiler invocations")
			_ = rt.pool.Shutdown(cfg.ShutdownGrace)
		case <-done:
		}
	}()

	res, runErr := rt.service.Run(context.Background(), build.Request{Config: cfg, Targets: b.Target})
	close(done)
	printResult(os.Stdout, os.Stderr, res)
	_ = rt.Close()
	return runErr
}

func printResult(out, diag io.Writer, res *build.Result) {
	if res == nil {
		return
	}
	for _, t := range res.Targets {
		for _, d := range t.Diagnostics {
			if d.Severity == compiler.SeverityError || d.Severity == compiler.SeverityWarning {
				_, _ = fmt.Fprintln(diag, d.String())
			}
		}
		mode := "incremental"
		if !t.Incremental {
			mode = "one-shot"
		}
		_, _ = fmt.Fprintf(out, "%s: %s (%s, %d rounds, %d packages compiled, %d sources, %s)\n",
			t.Target, t.Status, mode, t.Rounds, len(t.Compiled), t.Sources, t.Duration.Round(time.Millisecond))
	}
}
