// Package eventstore records build history as an append-only event log and
// projects it into per-build summaries.
package eventstore

import (
	"context"
	"time"
)

// Store persists and retrieves events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, e Event) error

	// GetByBuildID retrieves all events of one build in append order.
	GetByBuildID(ctx context.Context, buildID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// RecentBuildIDs returns the IDs of the most recently started builds, newest first.
	RecentBuildIDs(ctx context.Context, limit int) ([]string, error)

	Close() error
}
