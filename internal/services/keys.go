package services

import (
	"context"
	"time"

	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ProgressResetter clears a client's funnel progress.
// KeyRegistry calls it when keys are removed for an owner.
type ProgressResetter interface {
	Reset(ctx context.Context, clientID string) error
}

// Key issue sources reported to observers
const (
	SourceFunnel  = "funnel"
	SourceAdmin   = "admin"
	SourcePayment = "payment"
)

// KeyObserver is told about every newly minted key
type KeyObserver interface {
	KeyIssued(ctx context.Context, key *models.AccessKey, source string)
}

// KeyOptions configures a KeyRegistry
type KeyOptions struct {
	Prefix          string
	DefaultMaxUsers int
	DefaultTTL      time.Duration
	Clock           Clock
	Observers       []KeyObserver
}

// KeyRegistry owns the keys collection
type KeyRegistry struct {
	keys            *store.Collection[models.AccessKey]
	progress        ProgressResetter
	defaultMaxUsers int
	defaultTTL      time.Duration
	now             Clock
	newToken        func() string
	observers       []KeyObserver
}

// NewKeyRegistry creates a key registry. progress may be nil.
func NewKeyRegistry(keys *store.Collection[models.AccessKey], progress ProgressResetter, opts KeyOptions) *KeyRegistry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.DefaultMaxUsers < 1 {
		opts.DefaultMaxUsers = 2
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 24 * time.Hour
	}
	return &KeyRegistry{
		keys:            keys,
		progress:        progress,
		defaultMaxUsers: opts.DefaultMaxUsers,
		defaultTTL:      opts.DefaultTTL,
		now:             opts.Clock,
		newToken:        tokenGenerator(opts.Prefix),
		observers:       opts.Observers,
	}
}

// DefaultMaxUsers returns the consumer cap applied when callers pass zero
func (r *KeyRegistry) DefaultMaxUsers() int {
	return r.defaultMaxUsers
}

// DefaultTTL is the lifetime of keys minted without an explicit duration
func (r *KeyRegistry) DefaultTTL() time.Duration {
	return r.defaultTTL
}

// IssueForOwner returns the owner's live key, minting one if there is none.
// A key found past its expiry is flagged expired before the replacement is minted.
// Zero maxUsers or ttl select the registry defaults.
func (r *KeyRegistry) IssueForOwner(ctx context.Context, owner string, maxUsers int, ttl time.Duration) (*models.AccessKey, error) {
	if owner == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "owner is required")
	}
	if maxUsers < 1 {
		maxUsers = r.defaultMaxUsers
	}
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	var issued models.AccessKey
	var minted bool
	err := r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		now := r.now()
		changed := false
		for i := range keys {
			k := &keys[i]
			if k.Owner != owner || k.Expired || k.AdminCreated {
				continue
			}
			if k.Expiry.Passed(now) {
				k.Expired = true
				changed = true
				continue
			}
			issued = *k
			if !changed {
				return nil, errUnchanged
			}
			return keys, nil
		}

		issued = models.AccessKey{
			Token:     r.uniqueToken(keys),
			Owner:     owner,
			MaxUsers:  maxUsers,
			CreatedAt: now,
			Expiry:    models.At(now.Add(ttl)),
			Consumers: []string{},
		}
		minted = true
		return append(keys, issued), nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}

	if minted {
		log.Info().
			Str("owner", owner).
			Str("key", issued.Token).
			Time("expires_at", issued.Expiry.Time()).
			Msg("Access key issued")
		r.notify(ctx, &issued, SourceFunnel)
	}
	return &issued, nil
}

// IssueCustom stores an admin-supplied token valid for ttl
func (r *KeyRegistry) IssueCustom(ctx context.Context, token string, ttl time.Duration, maxUsers int) (*models.AccessKey, error) {
	if ttl <= 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "duration must be positive")
	}
	return r.insert(ctx, token, models.OwnerAdmin, maxUsers, SourceAdmin, func(now time.Time) models.Expiry {
		return models.At(now.Add(ttl))
	})
}

// IssuePermanent stores an admin-supplied token that never expires
func (r *KeyRegistry) IssuePermanent(ctx context.Context, token, owner string, maxUsers int) (*models.AccessKey, error) {
	if owner == "" {
		owner = models.OwnerAdmin
	}
	return r.insert(ctx, token, owner, maxUsers, SourceAdmin, func(time.Time) models.Expiry {
		return models.Permanent()
	})
}

// IssueGenerated mints a fresh token for owner outside the one-live-key rule.
// permanent ignores ttl.
func (r *KeyRegistry) IssueGenerated(ctx context.Context, owner string, maxUsers int, ttl time.Duration, permanent bool, source string) (*models.AccessKey, error) {
	if !permanent && ttl <= 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "duration must be positive")
	}
	return r.insert(ctx, "", owner, maxUsers, source, func(now time.Time) models.Expiry {
		if permanent {
			return models.Permanent()
		}
		return models.At(now.Add(ttl))
	})
}

// insert adds an admin-created key; an empty token is generated
func (r *KeyRegistry) insert(ctx context.Context, token, owner string, maxUsers int, source string, expiry func(time.Time) models.Expiry) (*models.AccessKey, error) {
	if maxUsers < 1 {
		maxUsers = r.defaultMaxUsers
	}

	var issued models.AccessKey
	err := r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		if token == "" {
			token = r.uniqueToken(keys)
		} else if findKey(keys, token) >= 0 {
			return nil, errors.Wrapf(ErrDuplicateToken, "key %q already exists", token)
		}
		now := r.now()
		issued = models.AccessKey{
			Token:        token,
			Owner:        owner,
			MaxUsers:     maxUsers,
			CreatedAt:    now,
			Expiry:       expiry(now),
			Consumers:    []string{},
			AdminCreated: true,
		}
		return append(keys, issued), nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("owner", owner).
		Str("key", issued.Token).
		Str("expiry", issued.Expiry.String()).
		Msg("Access key created")
	r.notify(ctx, &issued, source)
	return &issued, nil
}

// VerifyAndBind checks token and binds consumerID to it.
// Binding an already bound consumer always succeeds. A key found lapsed releases its owner's progress.
func (r *KeyRegistry) VerifyAndBind(ctx context.Context, token, consumerID string) (*models.AccessKey, error) {
	if token == "" || consumerID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "key and consumer are required")
	}

	var bound models.AccessKey
	var result error
	err := r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		i := findKey(keys, token)
		if i < 0 {
			return nil, ErrNotFound
		}
		k := &keys[i]
		if k.Expired {
			return nil, ErrExpired
		}
		if k.Expiry.Passed(r.now()) {
			// persist the flag, then report the expiry
			k.Expired = true
			bound = *k
			result = ErrExpired
			return keys, nil
		}
		if k.HasConsumer(consumerID) {
			bound = *k
			return nil, errUnchanged
		}
		if len(k.Consumers) >= k.MaxUsers {
			return nil, ErrConsumerLimitExceeded
		}
		k.Consumers = append(k.Consumers, consumerID)
		bound = *k
		return keys, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	if result != nil {
		if err := r.release(ctx, bound.Owner); err != nil {
			return nil, err
		}
		return nil, result
	}
	return &bound, nil
}

// Extend pushes a key's expiry back by hours
func (r *KeyRegistry) Extend(ctx context.Context, token string, hours int) (*models.AccessKey, error) {
	if hours <= 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "hours must be positive")
	}
	return r.shift(ctx, token, models.Hours(hours))
}

// Reduce pulls a key's expiry forward by hours; a key pushed into the past is flagged expired
func (r *KeyRegistry) Reduce(ctx context.Context, token string, hours int) (*models.AccessKey, error) {
	if hours <= 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "hours must be positive")
	}
	return r.shift(ctx, token, -models.Hours(hours))
}

func (r *KeyRegistry) shift(ctx context.Context, token string, delta time.Duration) (*models.AccessKey, error) {
	var updated models.AccessKey
	err := r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		i := findKey(keys, token)
		if i < 0 {
			return nil, ErrNotFound
		}
		k := &keys[i]
		if k.Expired {
			return nil, ErrExpired
		}
		next, ok := k.Expiry.Add(delta)
		if !ok {
			return nil, ErrUnsupported
		}
		k.Expiry = next
		if next.Passed(r.now()) {
			k.Expired = true
		}
		updated = *k
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Expired {
		if err := r.release(ctx, updated.Owner); err != nil {
			return nil, err
		}
	}
	return &updated, nil
}

// UnbindAll clears a key's consumers
func (r *KeyRegistry) UnbindAll(ctx context.Context, token string) error {
	return r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		i := findKey(keys, token)
		if i < 0 {
			return nil, ErrNotFound
		}
		keys[i].Consumers = []string{}
		return keys, nil
	})
}

// DeleteByToken removes one key
func (r *KeyRegistry) DeleteByToken(ctx context.Context, token string) error {
	return r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		i := findKey(keys, token)
		if i < 0 {
			return nil, ErrNotFound
		}
		return append(keys[:i], keys[i+1:]...), nil
	})
}

// DeleteAllForOwner removes every key owned by owner and resets the owner's progress
func (r *KeyRegistry) DeleteAllForOwner(ctx context.Context, owner string) (int, error) {
	var removed int
	err := r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		kept := keys[:0]
		for _, k := range keys {
			if k.Owner == owner {
				removed++
				continue
			}
			kept = append(kept, k)
		}
		if removed == 0 {
			return nil, errUnchanged
		}
		return kept, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return 0, err
	}

	if err := r.resetProgress(ctx, owner); err != nil {
		return removed, err
	}
	return removed, nil
}

// DeleteAll removes every key
func (r *KeyRegistry) DeleteAll(ctx context.Context) (int, error) {
	var removed int
	err := r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		removed = len(keys)
		return []models.AccessKey{}, nil
	})
	return removed, err
}

// SweepExpired removes lapsed keys and resets the progress of owners left without a live key.
// Permanent keys are never removed.
func (r *KeyRegistry) SweepExpired(ctx context.Context) ([]models.AccessKey, error) {
	var removed []models.AccessKey
	err := r.keys.Update(ctx, func(keys []models.AccessKey) ([]models.AccessKey, error) {
		now := r.now()
		kept := keys[:0]
		for _, k := range keys {
			if !k.Expiry.IsPermanent() && (k.Expired || k.Expiry.Passed(now)) {
				removed = append(removed, k)
				continue
			}
			kept = append(kept, k)
		}
		if len(removed) == 0 {
			return nil, errUnchanged
		}
		return kept, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, k := range removed {
		if seen[k.Owner] {
			continue
		}
		seen[k.Owner] = true
		if err := r.release(ctx, k.Owner); err != nil {
			return removed, err
		}
	}

	if len(removed) > 0 {
		log.Info().Int("removed", len(removed)).Msg("Expired keys swept")
	}
	return removed, nil
}

// Reset is the owner-initiated reset: drop the owner's keys and progress
func (r *KeyRegistry) Reset(ctx context.Context, owner string) error {
	_, err := r.DeleteAllForOwner(ctx, owner)
	return err
}

// Lookup returns the key with token
func (r *KeyRegistry) Lookup(ctx context.Context, token string) (*models.AccessKey, error) {
	keys, err := r.keys.Load(ctx)
	if err != nil {
		return nil, err
	}
	i := findKey(keys, token)
	if i < 0 {
		return nil, ErrNotFound
	}
	return &keys[i], nil
}

// ForOwner returns the owner's live funnel key
func (r *KeyRegistry) ForOwner(ctx context.Context, owner string) (*models.AccessKey, error) {
	keys, err := r.keys.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	for i := range keys {
		k := &keys[i]
		if k.Owner == owner && !k.AdminCreated && k.Live(now) {
			return k, nil
		}
	}
	return nil, ErrNotFound
}

// HasLiveKey reports whether owner holds any live key
func (r *KeyRegistry) HasLiveKey(ctx context.Context, owner string) (bool, error) {
	keys, err := r.keys.Load(ctx)
	if err != nil {
		return false, err
	}
	now := r.now()
	for i := range keys {
		if keys[i].Owner == owner && keys[i].Live(now) {
			return true, nil
		}
	}
	return false, nil
}

// List returns every key
func (r *KeyRegistry) List(ctx context.Context) ([]models.AccessKey, error) {
	return r.keys.Load(ctx)
}

func (r *KeyRegistry) notify(ctx context.Context, key *models.AccessKey, source string) {
	for _, o := range r.observers {
		o.KeyIssued(ctx, key, source)
	}
}

// release resets owner's progress once the owner no longer holds a live key.
// An owner whose lapsed key was already replaced keeps the steps that earned the replacement.
func (r *KeyRegistry) release(ctx context.Context, owner string) error {
	live, err := r.HasLiveKey(ctx, owner)
	if err != nil {
		return err
	}
	if live {
		return nil
	}
	return r.resetProgress(ctx, owner)
}

func (r *KeyRegistry) resetProgress(ctx context.Context, owner string) error {
	if r.progress == nil {
		return nil
	}
	return errors.Wrapf(r.progress.Reset(ctx, owner), "reset progress for %s", owner)
}

func (r *KeyRegistry) uniqueToken(keys []models.AccessKey) string {
	for {
		token := r.newToken()
		if findKey(keys, token) < 0 {
			return token
		}
	}
}

func findKey(keys []models.AccessKey, token string) int {
	for i := range keys {
		if keys[i].Token == token {
			return i
		}
	}
	return -1
}

// Countdown is the time left on a key, split for display
type Countdown struct {
	Hours   int
	Minutes int
	Seconds int
}

// TimeLeft returns the countdown shown on the key page.
// Permanent keys have no countdown and report false.
func TimeLeft(key *models.AccessKey, now time.Time) (Countdown, bool) {
	left, ok := key.Expiry.Remaining(now)
	if !ok {
		return Countdown{}, false
	}
	secs := int(left / time.Second)
	return Countdown{
		Hours:   secs / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
	}, true
}
