package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/eventstore"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Path  string `help:"History database (default: history.path from the configuration)" type:"path"`
	Limit int    `short:"n" help:"Number of builds to list" default:"20"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	path := h.Path
	if path == "" {
		cfg, err := loadConfig(root, nil)
		if err != nil {
			return err
		}
		path = cfg.History.Path
	}
	if path == "" {
		return errors.ConfigRequired("history.path")
	}
	if _, err := os.Stat(path); err != nil {
		return errors.FileSystemError("open build history", err)
	}

	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return errors.FileSystemError("open build history", err)
	}
	defer func() { _ = store.Close() }()

	summaries, err := eventstore.Recent(context.Background(), store, h.Limit)
	if err != nil {
		return errors.Wrap(err, errors.CategoryState, errors.SeverityError, "read build history")
	}
	printHistory(os.Stdout, summaries)
	return nil
}

func printHistory(out io.Writer, summaries []*eventstore.BuildSummary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tTARGET\tSTATUS\tROUNDS\tCOMPILED\tDURATION\tBUILD")
	for _, s := range summaries {
		compiled := strings.Join(s.Compiled, ",")
		if compiled == "" {
			compiled = "-"
		}
		status := s.Status
		if s.Error != "" {
			status += ": " + s.Category
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.StartedAt.Format(time.DateTime), s.Target, status, s.Rounds, compiled,
			s.Duration().Round(time.Millisecond), s.BuildID)
	}
	_ = tw.Flush()
}
