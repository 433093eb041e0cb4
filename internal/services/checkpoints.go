package services

import (
	"context"
	"time"

	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Tracker records each client's progress through the funnel.
// Steps only grow; Reset is the one way to clear them.
type Tracker struct {
	records *store.Collection[models.ProgressRecord]
	now     Clock
}

// NewTracker creates a checkpoint tracker
func NewTracker(records *store.Collection[models.ProgressRecord], clock Clock) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{records: records, now: clock}
}

// RecordStep marks step as reached by clientID and touches lastAccess
func (t *Tracker) RecordStep(ctx context.Context, clientID, step string) error {
	if clientID == "" || step == "" {
		return errors.Wrap(ErrInvalidArgument, "client and step are required")
	}
	return t.records.Update(ctx, func(records []models.ProgressRecord) ([]models.ProgressRecord, error) {
		now := t.now()
		for i := range records {
			r := &records[i]
			if r.ClientID != clientID {
				continue
			}
			if !r.Has(step) {
				r.Steps = append(r.Steps, step)
			}
			r.LastAccess = now
			return records, nil
		}
		return append(records, models.ProgressRecord{
			ClientID:   clientID,
			Steps:      []string{step},
			LastAccess: now,
		}), nil
	})
}

// HasCompleted reports whether clientID reached every step in steps.
// An unknown client has completed nothing.
func (t *Tracker) HasCompleted(ctx context.Context, clientID string, steps []string) (bool, error) {
	rec, err := t.Get(ctx, clientID)
	if err != nil {
		return false, err
	}
	return rec.HasAll(steps), nil
}

// Get returns the client's record, or an empty one for a client never seen
func (t *Tracker) Get(ctx context.Context, clientID string) (models.ProgressRecord, error) {
	records, err := t.records.Load(ctx)
	if err != nil {
		return models.ProgressRecord{}, err
	}
	for _, r := range records {
		if r.ClientID == clientID {
			return r, nil
		}
	}
	return models.ProgressRecord{ClientID: clientID, Steps: []string{}}, nil
}

// Reset clears a client's steps and keeps the record for reaping
func (t *Tracker) Reset(ctx context.Context, clientID string) error {
	err := t.records.Update(ctx, func(records []models.ProgressRecord) ([]models.ProgressRecord, error) {
		for i := range records {
			if records[i].ClientID != clientID {
				continue
			}
			if len(records[i].Steps) == 0 {
				return nil, errUnchanged
			}
			records[i].Steps = []string{}
			return records, nil
		}
		return nil, errUnchanged
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}
	return nil
}

// Sweep removes records idle for longer than maxAge unless isExempt says otherwise.
// isExempt runs outside the collection lock so it may consult other registries.
func (t *Tracker) Sweep(ctx context.Context, maxAge time.Duration, isExempt func(ctx context.Context, clientID string) (bool, error)) (int, error) {
	records, err := t.records.Load(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := t.now().Add(-maxAge)
	stale := make(map[string]bool)
	for _, r := range records {
		if !r.LastAccess.Before(cutoff) {
			continue
		}
		if isExempt != nil {
			exempt, err := isExempt(ctx, r.ClientID)
			if err != nil {
				return 0, err
			}
			if exempt {
				continue
			}
		}
		stale[r.ClientID] = true
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var removed int
	err = t.records.Update(ctx, func(records []models.ProgressRecord) ([]models.ProgressRecord, error) {
		kept := records[:0]
		for _, r := range records {
			// a step recorded since the scan keeps the record
			if stale[r.ClientID] && r.LastAccess.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Stale progress reaped")
	return removed, nil
}

// List returns every progress record
func (t *Tracker) List(ctx context.Context) ([]models.ProgressRecord, error) {
	return t.records.Load(ctx)
}
