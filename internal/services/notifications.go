package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Notifier relays a notification to an external channel
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// NotificationQueue holds messages for the in-game poller and relays them outward
type NotificationQueue struct {
	messages *store.Collection[models.Notification]
	notifier Notifier
	timeout  time.Duration
	now      Clock
	wg       sync.WaitGroup
}

// NewNotificationQueue creates a queue. notifier may be nil.
func NewNotificationQueue(messages *store.Collection[models.Notification], notifier Notifier, timeout time.Duration, clock Clock) *NotificationQueue {
	if clock == nil {
		clock = time.Now
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationQueue{
		messages: messages,
		notifier: notifier,
		timeout:  timeout,
		now:      clock,
	}
}

// Push appends a message and relays it in the background.
// Relay failures are logged and never returned.
func (q *NotificationQueue) Push(ctx context.Context, text string, kind models.NotificationKind) (*models.Notification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "message is required")
	}
	if kind != models.KindNotification && kind != models.KindKick {
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown notification kind %q", kind)
	}

	n := models.Notification{Text: text, Kind: kind, CreatedAt: q.now()}
	err := q.messages.Update(ctx, func(messages []models.Notification) ([]models.Notification, error) {
		return append(messages, n), nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("kind", string(kind)).Msg("Notification queued")

	if q.notifier != nil {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			relayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
			defer cancel()
			if err := q.notifier.Notify(relayCtx, n); err != nil {
				log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to relay notification")
			}
		}()
	}
	return &n, nil
}

// List returns queued messages, oldest first
func (q *NotificationQueue) List(ctx context.Context) ([]models.Notification, error) {
	return q.messages.Load(ctx)
}

// Clear empties the queue
func (q *NotificationQueue) Clear(ctx context.Context) error {
	return q.messages.Replace(ctx, []models.Notification{})
}

// Wait blocks until in-flight relays finish
func (q *NotificationQueue) Wait() {
	q.wg.Wait()
}
