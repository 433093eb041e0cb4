package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/store"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClock is a Clock tests can move by hand
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock     *fakeClock
	keys      *KeyRegistry
	blacklist *BlacklistRegistry
	tracker   *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	clock := newFakeClock()
	tracker := NewTracker(store.NewCollection[models.ProgressRecord](backend, store.Progress), clock.Now)
	return &fixture{
		clock:   clock,
		tracker: tracker,
		keys: NewKeyRegistry(store.NewCollection[models.AccessKey](backend, store.Keys), tracker, KeyOptions{
			Prefix:          "TheBasement_",
			DefaultMaxUsers: 2,
			DefaultTTL:      24 * time.Hour,
			Clock:           clock.Now,
		}),
		blacklist: NewBlacklistRegistry(store.NewCollection[models.BlacklistEntry](backend, store.Blacklist), clock.Now),
	}
}

// MockNotifier records relayed notifications
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
