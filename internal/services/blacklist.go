package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TTL is how long a ban lasts: Permanent, or Duration from now
type TTL struct {
	Duration  time.Duration
	Permanent bool
}

// PermanentTTL never lapses
var PermanentTTL = TTL{Permanent: true}

// ForHours returns a TTL of h hours
func ForHours(h int) TTL {
	return TTL{Duration: models.Hours(h)}
}

// ParseTTL reads "permanent", a number of hours or a Go duration
func ParseTTL(spec string) (TTL, error) {
	d, permanent, err := models.ParseTTL(spec)
	if err != nil {
		return TTL{}, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	if !permanent && d <= 0 {
		return TTL{}, errors.Wrap(ErrInvalidArgument, "duration must be positive")
	}
	return TTL{Duration: d, Permanent: permanent}, nil
}

func (t TTL) expiry(now time.Time) models.Expiry {
	if t.Permanent {
		return models.Permanent()
	}
	return models.At(now.Add(t.Duration))
}

func (t TTL) String() string {
	if t.Permanent {
		return "permanent"
	}
	return t.Duration.String()
}

// BlockStatus is the result of a blacklist query
type BlockStatus struct {
	Blocked bool
	Entry   *models.BlacklistEntry
	Message string
}

// BlacklistRegistry owns the blacklist collection
type BlacklistRegistry struct {
	entries *store.Collection[models.BlacklistEntry]
	now     Clock
}

// NewBlacklistRegistry creates a blacklist registry
func NewBlacklistRegistry(entries *store.Collection[models.BlacklistEntry], clock Clock) *BlacklistRegistry {
	if clock == nil {
		clock = time.Now
	}
	return &BlacklistRegistry{entries: entries, now: clock}
}

// Add bans a subject. An existing entry for the subject is refreshed in place and keeps its id.
func (b *BlacklistRegistry) Add(ctx context.Context, t models.SubjectType, value, reason string, ttl TTL) (*models.BlacklistEntry, error) {
	return b.upsert(ctx, t, value, reason, ttl, newBlacklistID)
}

// Escalate bans an IP caught skipping funnel steps
func (b *BlacklistRegistry) Escalate(ctx context.Context, ip, reason string, ttl TTL) (*models.BlacklistEntry, error) {
	return b.upsert(ctx, models.SubjectIP, ip, reason, ttl, newEscalationID)
}

func (b *BlacklistRegistry) upsert(ctx context.Context, t models.SubjectType, value, reason string, ttl TTL, newID func() string) (*models.BlacklistEntry, error) {
	value = strings.TrimSpace(value)
	if !t.Valid() {
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown subject type %q", t)
	}
	if value == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "subject value is required")
	}
	if !ttl.Permanent && ttl.Duration <= 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "duration must be positive")
	}

	var saved models.BlacklistEntry
	err := b.entries.Update(ctx, func(entries []models.BlacklistEntry) ([]models.BlacklistEntry, error) {
		now := b.now()
		for i := range entries {
			e := &entries[i]
			if !e.Matches(t, value) {
				continue
			}
			e.Reason = reason
			e.Expiry = ttl.expiry(now)
			if e.ID == "" {
				e.ID = newID()
			}
			saved = *e
			return entries, nil
		}

		saved = models.BlacklistEntry{
			ID:        newID(),
			Type:      t,
			Value:     value,
			Reason:    reason,
			Expiry:    ttl.expiry(now),
			CreatedAt: now,
		}
		return append(entries, saved), nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("blacklist_id", saved.ID).
		Str("type", string(t)).
		Str("value", value).
		Str("reason", reason).
		Str("expiry", saved.Expiry.String()).
		Msg("Subject blacklisted")
	return &saved, nil
}

// IsBlocked reports whether an active entry bans the subject
func (b *BlacklistRegistry) IsBlocked(ctx context.Context, t models.SubjectType, value string) (BlockStatus, error) {
	entries, err := b.entries.Load(ctx)
	if err != nil {
		return BlockStatus{}, err
	}
	now := b.now()
	for i := range entries {
		e := &entries[i]
		if e.Matches(t, value) && e.Active(now) {
			return BlockStatus{Blocked: true, Entry: e, Message: blockMessage(e)}, nil
		}
	}
	return BlockStatus{}, nil
}

// Check returns ErrBlocked when an active entry bans the subject
func (b *BlacklistRegistry) Check(ctx context.Context, t models.SubjectType, value string) error {
	status, err := b.IsBlocked(ctx, t, value)
	if err != nil {
		return err
	}
	if status.Blocked {
		return errors.Wrap(ErrBlocked, status.Message)
	}
	return nil
}

func blockMessage(e *models.BlacklistEntry) string {
	subject := "You have"
	if e.Type == models.SubjectIP {
		subject = "Your IP has"
	}
	if e.Expiry.IsPermanent() {
		return fmt.Sprintf("%s been blacklisted", subject)
	}
	return fmt.Sprintf("%s been blacklisted until %s", subject, e.Expiry.Time().UTC().Format("Monday, January 2, 2006 3:04 PM MST"))
}

// Remove drops every entry whose value matches, for either subject type
func (b *BlacklistRegistry) Remove(ctx context.Context, value string) error {
	return b.removeWhere(ctx, func(e *models.BlacklistEntry) bool {
		return e.Matches(models.SubjectIP, value) || e.Matches(models.SubjectPlayer, value)
	})
}

// RemoveByID drops the entry with id
func (b *BlacklistRegistry) RemoveByID(ctx context.Context, id string) error {
	return b.removeWhere(ctx, func(e *models.BlacklistEntry) bool {
		return e.ID == id
	})
}

func (b *BlacklistRegistry) removeWhere(ctx context.Context, match func(*models.BlacklistEntry) bool) error {
	return b.entries.Update(ctx, func(entries []models.BlacklistEntry) ([]models.BlacklistEntry, error) {
		kept := entries[:0]
		for i := range entries {
			if match(&entries[i]) {
				continue
			}
			kept = append(kept, entries[i])
		}
		if len(kept) == len(entries) {
			return nil, ErrNotFound
		}
		return kept, nil
	})
}

// AdjustDuration moves a ban's expiry to max(now, expiry)+delta.
// A result before now is clamped to now, which lifts the ban.
func (b *BlacklistRegistry) AdjustDuration(ctx context.Context, value string, deltaHours int) (*models.BlacklistEntry, error) {
	if deltaHours == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "hours must be non-zero")
	}

	var adjusted models.BlacklistEntry
	err := b.entries.Update(ctx, func(entries []models.BlacklistEntry) ([]models.BlacklistEntry, error) {
		for i := range entries {
			e := &entries[i]
			if !e.Matches(models.SubjectIP, value) && !e.Matches(models.SubjectPlayer, value) {
				continue
			}
			if e.Expiry.IsPermanent() {
				return nil, ErrUnsupported
			}
			now := b.now()
			base := e.Expiry.Time()
			if base.Before(now) {
				base = now
			}
			next := base.Add(models.Hours(deltaHours))
			if next.Before(now) {
				next = now
			}
			e.Expiry = models.At(next)
			adjusted = *e
			return entries, nil
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &adjusted, nil
}

// Clear drops every entry
func (b *BlacklistRegistry) Clear(ctx context.Context) error {
	return b.entries.Replace(ctx, []models.BlacklistEntry{})
}

// Get returns the first entry for value, active or not
func (b *BlacklistRegistry) Get(ctx context.Context, value string) (*models.BlacklistEntry, error) {
	entries, err := b.entries.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Matches(models.SubjectIP, value) || entries[i].Matches(models.SubjectPlayer, value) {
			return &entries[i], nil
		}
	}
	return nil, ErrNotFound
}

// List returns every entry, including lapsed ones
func (b *BlacklistRegistry) List(ctx context.Context) ([]models.BlacklistEntry, error) {
	return b.entries.Load(ctx)
}

// Sweep drops lapsed non-permanent entries and returns how many were removed
func (b *BlacklistRegistry) Sweep(ctx context.Context) (int, error) {
	var removed int
	err := b.entries.Update(ctx, func(entries []models.BlacklistEntry) ([]models.BlacklistEntry, error) {
		now := b.now()
		kept := entries[:0]
		for i := range entries {
			if !entries[i].Active(now) {
				removed++
				continue
			}
			kept = append(kept, entries[i])
		}
		if removed == 0 {
			return nil, errUnchanged
		}
		return kept, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return 0, err
	}
	return removed, nil
}
