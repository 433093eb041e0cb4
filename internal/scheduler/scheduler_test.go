package scheduler

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/keygate/internal/metrics"
	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/services"
	"example.com/backstage/services/keygate/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	clock     *clock
	keys      *services.KeyRegistry
	blacklist *services.BlacklistRegistry
	tracker   *services.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	c := &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	tracker := services.NewTracker(store.NewCollection[models.ProgressRecord](backend, store.Progress), c.Now)
	return &fixture{
		clock:   c,
		tracker: tracker,
		keys: services.NewKeyRegistry(store.NewCollection[models.AccessKey](backend, store.Keys), tracker, services.KeyOptions{
			Prefix: "TheBasement_",
			Clock:  c.Now,
		}),
		blacklist: services.NewBlacklistRegistry(store.NewCollection[models.BlacklistEntry](backend, store.Blacklist), c.Now),
	}
}

func TestSweepKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.keys.IssueForOwner(ctx, "1.1.1.1", 0, time.Hour)
	require.NoError(t, err)
	_, err = f.blacklist.Add(ctx, models.SubjectIP, "2.2.2.2", "", services.ForHours(1))
	require.NoError(t, err)
	_, err = f.blacklist.Add(ctx, models.SubjectIP, "3.3.3.3", "", services.PermanentTTL)
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	jobs := NewJobs(f.keys, f.blacklist, f.tracker, metrics.NewMetrics(), Options{})
	require.NoError(t, jobs.SweepKeys(ctx))

	keys, err := f.keys.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	entries, err := f.blacklist.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3.3.3.3", entries[0].Value)
}

func TestReapProgressKeepsKeyHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.RecordStep(ctx, "holder", "key"))
	require.NoError(t, f.tracker.RecordStep(ctx, "idle", "checkpoint1"))
	_, err := f.keys.IssueForOwner(ctx, "holder", 0, 72*time.Hour)
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(30 * time.Hour)
	jobs := NewJobs(f.keys, f.blacklist, f.tracker, nil, Options{Retention: 24 * time.Hour})
	require.NoError(t, jobs.ReapProgress(ctx))

	records, err := f.tracker.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "holder", records[0].ClientID)
}

func TestRunStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.keys.IssueForOwner(ctx, "1.1.1.1", 0, time.Hour)
	require.NoError(t, err)
	f.clock.now = f.clock.now.Add(2 * time.Hour)

	jobs := NewJobs(f.keys, f.blacklist, f.tracker, nil, Options{
		ReapInterval:  time.Hour,
		SweepInterval: time.Hour,
		RunOnStart:    true,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- jobs.Run(runCtx) }()

	// the key sweeper runs on start and removes the lapsed key
	require.Eventually(t, func() bool {
		keys, err := f.keys.List(ctx)
		return err == nil && len(keys) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
