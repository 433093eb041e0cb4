package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStepIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "checkpoint1"))
	f.clock.Advance(time.Minute)
	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "checkpoint1"))

	rec, err := f.tracker.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint1"}, rec.Steps)
	assert.Equal(t, f.clock.Now(), rec.LastAccess)
}

func TestHasCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done, err := f.tracker.HasCompleted(ctx, "1.2.3.4", []string{"checkpoint1"})
	require.NoError(t, err)
	assert.False(t, done)

	// an empty requirement is trivially met
	done, err = f.tracker.HasCompleted(ctx, "1.2.3.4", nil)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "checkpoint2"))
	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "checkpoint1"))

	done, err = f.tracker.HasCompleted(ctx, "1.2.3.4", []string{"checkpoint1", "checkpoint2"})
	require.NoError(t, err)
	assert.True(t, done)

	rec, err := f.tracker.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint2", "checkpoint1"}, rec.Steps)
}

func TestTrackerResetKeepsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "checkpoint1"))
	require.NoError(t, f.tracker.Reset(ctx, "1.2.3.4"))
	require.NoError(t, f.tracker.Reset(ctx, "unknown"))

	records, err := f.tracker.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Steps)
}

func TestTrackerSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordStep(ctx, "old", "checkpoint1"))
	require.NoError(t, f.tracker.RecordStep(ctx, "keyholder", "checkpoint1"))
	f.clock.Advance(30 * time.Hour)
	require.NoError(t, f.tracker.RecordStep(ctx, "fresh", "checkpoint1"))

	exempt := func(_ context.Context, clientID string) (bool, error) {
		return clientID == "keyholder", nil
	}
	removed, err := f.tracker.Sweep(ctx, 24*time.Hour, exempt)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	records, err := f.tracker.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ClientID)
	}
	assert.ElementsMatch(t, []string{"keyholder", "fresh"}, ids)
}

func TestTrackerSweepExemptsLiveKeyHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "key"))
	_, err := f.keys.IssueForOwner(ctx, "1.2.3.4", 0, 72*time.Hour)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	removed, err := f.tracker.Sweep(ctx, 24*time.Hour, f.keys.HasLiveKey)
	require.NoError(t, err)
	assert.Zero(t, removed)

	f.clock.Advance(48 * time.Hour)
	removed, err = f.tracker.Sweep(ctx, 24*time.Hour, f.keys.HasLiveKey)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
