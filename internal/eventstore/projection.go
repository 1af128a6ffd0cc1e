package eventstore

import (
	"context"
	"fmt"
	"time"
)

// Build statuses.
const (
	StatusRunning   = "running"
	StatusCommitted = "committed"
	StatusUpToDate  = "up-to-date"
	StatusFailed    = "failed"
)

// BuildSummary is the projection of one build's events.
type BuildSummary struct {
	BuildID     string
	Target      string
	Incremental bool
	Sources     int
	Status      string
	Rounds      int
	// Taint accumulates the reason every compiled package was first tainted for.
	Taint    map[string]string
	Compiled []string
	Error    string
	Category string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is zero while the build is running.
func (s *BuildSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Summarize folds the events of a single build into a summary.
func Summarize(events []Event) (*BuildSummary, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events")
	}
	s := &BuildSummary{
		BuildID: events[0].BuildID(),
		Status:  StatusRunning,
		Taint:   map[string]string{},
	}
	for _, e := range events {
		if err := s.apply(e); err != nil {
			return nil, fmt.Errorf("apply %s event %d: %w", e.Type(), e.ID(), err)
		}
	}
	return s, nil
}

func (s *BuildSummary) apply(e Event) error {
	switch e.Type() {
	case TypeBuildStarted:
		var p BuildStarted
		if err := Decode(e, &p); err != nil {
			return err
		}
		s.Target = p.Target
		s.Incremental = p.Incremental
		s.Sources = p.Sources
		s.StartedAt = e.Timestamp()
	case TypeRoundStarted:
		var p RoundStarted
		if err := Decode(e, &p); err != nil {
			return err
		}
		s.Rounds = max(s.Rounds, p.Round)
		for pkg, reason := range p.Taint {
			if _, seen := s.Taint[pkg]; !seen {
				s.Taint[pkg] = reason
			}
		}
	case TypeRoundCompleted:
		// Rounds are counted when they start; outcomes surface through the terminal event.
	case TypeBuildCommitted:
		var p BuildCommitted
		if err := Decode(e, &p); err != nil {
			return err
		}
		s.Status = StatusCommitted
		if p.UpToDate {
			s.Status = StatusUpToDate
		}
		s.Rounds = p.Rounds
		s.Compiled = p.Compiled
		s.FinishedAt = e.Timestamp()
	case TypeBuildFailed:
		var p BuildFailed
		if err := Decode(e, &p); err != nil {
			return err
		}
		s.Status = StatusFailed
		s.Rounds = max(s.Rounds, p.Rounds)
		s.Error = p.Error
		s.Category = p.Category
		s.FinishedAt = e.Timestamp()
	default:
		return fmt.Errorf("unknown event type %q", e.Type())
	}
	return nil
}

// Recent returns the summaries of the most recent builds, newest first.
func Recent(ctx context.Context, store Store, limit int) ([]*BuildSummary, error) {
	ids, err := store.RecentBuildIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*BuildSummary, 0, len(ids))
	for _, id := range ids {
		events, err := store.GetByBuildID(ctx, id)
		if err != nil {
			return nil, err
		}
		s, err := Summarize(events)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
