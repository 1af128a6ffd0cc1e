package eventstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/incbuild/internal/driver"
	builderrors "git.home.luguber.info/inful/incbuild/internal/errors"
)

func TestSummarize_Committed(t *testing.T) {
	store := newMemoryStore(t)
	ctx := t.Context()
	rec := NewRecorder(store)

	require.NoError(t, rec.BuildStarted(ctx, "b1", "main", true, 3))
	require.NoError(t, rec.RoundStarted(ctx, "b1", 1, map[string]string{"a": "changed"}))
	require.NoError(t, rec.RoundCompleted(ctx, "b1", 1, driver.OutcomeSuccess, time.Millisecond))
	require.NoError(t, rec.RoundStarted(ctx, "b1", 2, map[string]string{"a": "changed", "b": "api-change:a"}))
	require.NoError(t, rec.RoundCompleted(ctx, "b1", 2, driver.OutcomeSuccess, time.Millisecond))
	require.NoError(t, rec.BuildCommitted(ctx, "b1", 2, []string{"a", "b"}, false))

	events, err := store.GetByBuildID(ctx, "b1")
	require.NoError(t, err)
	s, err := Summarize(events)
	require.NoError(t, err)

	assert.Equal(t, "main", s.Target)
	assert.True(t, s.Incremental)
	assert.Equal(t, StatusCommitted, s.Status)
	assert.Equal(t, 2, s.Rounds)
	assert.Equal(t, []string{"a", "b"}, s.Compiled)
	assert.Equal(t, map[string]string{"a": "changed", "b": "api-change:a"}, s.Taint)
	assert.GreaterOrEqual(t, s.Duration(), time.Duration(0))
	assert.False(t, s.FinishedAt.IsZero())
}

func TestSummarize_UpToDateAndFailed(t *testing.T) {
	store := newMemoryStore(t)
	ctx := t.Context()
	rec := NewRecorder(store)

	require.NoError(t, rec.BuildStarted(ctx, "ok", "main", true, 1))
	require.NoError(t, rec.BuildCommitted(ctx, "ok", 0, nil, true))
	require.NoError(t, rec.BuildStarted(ctx, "bad", "main", true, 1))
	require.NoError(t, rec.BuildFailed(ctx, "bad", 1, builderrors.RoundFailed(1, errors.New("boom"))))
	require.NoError(t, rec.BuildStarted(ctx, "open", "lib", false, 1))

	summaries, err := Recent(ctx, store, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	assert.Equal(t, "open", summaries[0].BuildID)
	assert.Equal(t, StatusRunning, summaries[0].Status)
	assert.Zero(t, summaries[0].Duration())

	assert.Equal(t, "bad", summaries[1].BuildID)
	assert.Equal(t, StatusFailed, summaries[1].Status)
	assert.Equal(t, string(builderrors.CategoryCompiler), summaries[1].Category)
	assert.Contains(t, summaries[1].Error, "boom")

	assert.Equal(t, "ok", summaries[2].BuildID)
	assert.Equal(t, StatusUpToDate, summaries[2].Status)

	limited, err := Recent(ctx, store, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "open", limited[0].BuildID)
}

func TestSummarize_RejectsUnknownEvents(t *testing.T) {
	_, err := Summarize(nil)
	require.Error(t, err)

	_, err = Summarize([]Event{&BaseEvent{EventBuildID: "b", EventType: "Bogus", EventPayload: []byte("{}")}})
	require.Error(t, err)
}
