package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	be, ok := As(err)
	if !ok {
		return 1
	}
	switch be.Category {
	case CategoryConfig, CategoryValidation:
		return 2
	case CategorySafety:
		return 3
	default:
		return 1
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	be, ok := As(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if a.verbose {
		return be.Error()
	}

	switch be.Category {
	case CategoryConfig, CategoryValidation:
		return be.Message + formatContext(be.Context)
	default:
		return fmt.Sprintf("%s: %s%s", be.Category, be.Message, formatContext(be.Context))
	}
}

func formatContext(ctx ContextFields) string {
	if len(ctx) == 0 {
		return ""
	}
	s := ""
	for _, k := range sortedKeys(ctx) {
		s += fmt.Sprintf(" %s=%v", k, ctx[k])
	}
	return s
}

func sortedKeys(ctx ContextFields) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handle logs and prints the error and returns the exit code the process should use.
func (a *CLIErrorAdapter) Handle(err error) int {
	if err == nil {
		return 0
	}
	a.logError(err)
	fmt.Fprintln(a.out, a.FormatError(err))
	return a.ExitCodeFor(err)
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	be, ok := As(err)
	if !ok {
		a.logger.Error("Unclassified error", "error", err)
		return
	}
	attrs := []slog.Attr{slog.String("category", string(be.Category))}
	if be.Cause != nil {
		attrs = append(attrs, slog.String("cause", be.Cause.Error()))
	}
	a.logger.LogAttrs(context.Background(), levelForSeverity(be.Severity), be.Message, attrs...)
}

func levelForSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
