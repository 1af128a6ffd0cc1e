package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/incbuild/internal/driver"
	"git.home.luguber.info/inful/incbuild/internal/errors"
)

// NewBuildID returns a fresh build identifier.
func NewBuildID() string { return uuid.NewString() }

// Recorder writes the lifecycle of builds to a Store. It satisfies the round
// observer of the incremental orchestrator.
type Recorder struct {
	store Store
}

// NewRecorder returns a recorder appending to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) append(ctx context.Context, buildID, typ string, payload any) error {
	e, err := newEvent(buildID, typ, payload)
	if err != nil {
		return errors.InternalError("encode "+typ, err)
	}
	return r.store.Append(ctx, e)
}

// BuildStarted records the start of a build of target.
func (r *Recorder) BuildStarted(ctx context.Context, buildID, target string, incremental bool, sources int) error {
	return r.append(ctx, buildID, TypeBuildStarted, BuildStarted{
		Target:      target,
		Incremental: incremental,
		Sources:     sources,
	})
}

// RoundStarted records the taint set of a round.
func (r *Recorder) RoundStarted(ctx context.Context, buildID string, round int, taint map[string]string) error {
	return r.append(ctx, buildID, TypeRoundStarted, RoundStarted{Round: round, Taint: taint})
}

// RoundCompleted records the outcome of a round.
func (r *Recorder) RoundCompleted(ctx context.Context, buildID string, round int, outcome driver.Outcome, d time.Duration) error {
	return r.append(ctx, buildID, TypeRoundCompleted, RoundCompleted{
		Round:      round,
		Outcome:    string(outcome),
		DurationMS: d.Milliseconds(),
	})
}

// BuildCommitted records a successful build.
func (r *Recorder) BuildCommitted(ctx context.Context, buildID string, rounds int, compiled []string, upToDate bool) error {
	return r.append(ctx, buildID, TypeBuildCommitted, BuildCommitted{
		Rounds:   rounds,
		Compiled: compiled,
		UpToDate: upToDate,
	})
}

// BuildFailed records a failed build.
func (r *Recorder) BuildFailed(ctx context.Context, buildID string, rounds int, cause error) error {
	payload := BuildFailed{Rounds: rounds}
	if cause != nil {
		payload.Error = cause.Error()
		payload.Category = string(errors.GetCategory(cause))
	}
	return r.append(ctx, buildID, TypeBuildFailed, payload)
}
