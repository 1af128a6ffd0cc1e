// Package commands implements the incbuild command line.
package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/incbuild/internal/config"
)

// LogLevelEnv overrides the log level unless -v is given.
const LogLevelEnv = "INCBUILD_LOG_LEVEL"

// Global is passed to every command.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (default: ./incbuild.yaml when present)" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build targets incrementally (or once, without a state dir)"`
	Watch   WatchCmd   `cmd:"" help:"Rebuild targets whenever their sources change"`
	State   StateCmd   `cmd:"" help:"Inspect or reset persisted build state"`
	History HistoryCmd `cmd:"" help:"List recent builds from the history log"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	level := parseLogLevel(c.Verbose)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return nil
}

// parseLogLevel prefers -v, then INCBUILD_LOG_LEVEL, then info.
func parseLogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	if raw, ok := os.LookupEnv(LogLevelEnv); ok {
		return config.NormalizeLogLevel(raw).SlogLevel()
	}
	return slog.LevelInfo
}
