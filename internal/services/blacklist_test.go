package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"example.com/backstage/services/keygate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklistAddThenRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.blacklist.Add(ctx, models.SubjectIP, "9.9.9.9", "test", PermanentTTL)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{6}$`), entry.ID)

	status, err := f.blacklist.IsBlocked(ctx, models.SubjectIP, "9.9.9.9")
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.Equal(t, "Your IP has been blacklisted", status.Message)

	require.NoError(t, f.blacklist.Remove(ctx, "9.9.9.9"))
	status, err = f.blacklist.IsBlocked(ctx, models.SubjectIP, "9.9.9.9")
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	assert.ErrorIs(t, f.blacklist.Remove(ctx, "9.9.9.9"), ErrNotFound)
}

func TestBlacklistPlayerCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.blacklist.Add(ctx, models.SubjectPlayer, "Griefer", "spam", ForHours(2))
	require.NoError(t, err)

	status, err := f.blacklist.IsBlocked(ctx, models.SubjectPlayer, "gRIEFER")
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.Contains(t, status.Message, "You have been blacklisted until")

	f.clock.Advance(2 * time.Hour)
	status, err = f.blacklist.IsBlocked(ctx, models.SubjectPlayer, "griefer")
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestBlacklistAddRefreshesInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.blacklist.Add(ctx, models.SubjectIP, "9.9.9.9", "first", ForHours(1))
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	second, err := f.blacklist.Add(ctx, models.SubjectIP, "9.9.9.9", "second", ForHours(5))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "second", second.Reason)

	entries, err := f.blacklist.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, f.clock.Now().Add(5*time.Hour), entries[0].Expiry.Time())
}

func TestBlacklistEscalateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.blacklist.Escalate(ctx, "4.4.4.4", "bypass attempt", PermanentTTL)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^BL-[A-Z0-9]{8}$`), entry.ID)
	assert.True(t, entry.Expiry.IsPermanent())
}

func TestBlacklistAddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.blacklist.Add(ctx, "device", "x", "", PermanentTTL)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.blacklist.Add(ctx, models.SubjectIP, " ", "", PermanentTTL)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.blacklist.Add(ctx, models.SubjectIP, "1.1.1.1", "", TTL{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBlacklistAdjustDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.blacklist.Add(ctx, models.SubjectIP, "perm", "", PermanentTTL)
	require.NoError(t, err)
	_, err = f.blacklist.AdjustDuration(ctx, "perm", 5)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = f.blacklist.Add(ctx, models.SubjectIP, "9.9.9.9", "", ForHours(1))
	require.NoError(t, err)

	// a lapsed ban restarts from now instead of stacking on the old expiry
	f.clock.Advance(10 * time.Hour)
	adjusted, err := f.blacklist.AdjustDuration(ctx, "9.9.9.9", 3)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(3*time.Hour), adjusted.Expiry.Time())

	adjusted, err = f.blacklist.AdjustDuration(ctx, "9.9.9.9", -10)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), adjusted.Expiry.Time())

	status, err := f.blacklist.IsBlocked(ctx, models.SubjectIP, "9.9.9.9")
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	_, err = f.blacklist.AdjustDuration(ctx, "9.9.9.9", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.blacklist.AdjustDuration(ctx, "nobody", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlacklistRemoveByIDClearAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.blacklist.Add(ctx, models.SubjectIP, "1.1.1.1", "", ForHours(1))
	require.NoError(t, err)
	_, err = f.blacklist.Add(ctx, models.SubjectIP, "2.2.2.2", "", ForHours(10))
	require.NoError(t, err)
	_, err = f.blacklist.Add(ctx, models.SubjectPlayer, "steve", "", PermanentTTL)
	require.NoError(t, err)

	got, err := f.blacklist.Get(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	f.clock.Advance(2 * time.Hour)
	removed, err := f.blacklist.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.blacklist.Get(ctx, "1.1.1.1")
	assert.ErrorIs(t, err, ErrNotFound)

	steve, err := f.blacklist.Get(ctx, "STEVE")
	require.NoError(t, err)
	require.NoError(t, f.blacklist.RemoveByID(ctx, steve.ID))
	assert.ErrorIs(t, f.blacklist.RemoveByID(ctx, steve.ID), ErrNotFound)

	require.NoError(t, f.blacklist.Clear(ctx))
	entries, err := f.blacklist.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseTTL(t *testing.T) {
	ttl, err := ParseTTL("permanent")
	require.NoError(t, err)
	assert.True(t, ttl.Permanent)

	ttl, err = ParseTTL("12")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, ttl.Duration)

	_, err = ParseTTL("-3")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseTTL("tomorrow")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
