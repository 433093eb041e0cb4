// Package notify relays admin notifications to external channels.
package notify

import (
	"context"

	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/services"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Fanout delivers each notification to every channel concurrently
type Fanout struct {
	channels []services.Notifier
}

// NewFanout groups channels; nil entries are skipped
func NewFanout(channels ...services.Notifier) *Fanout {
	f := &Fanout{}
	for _, ch := range channels {
		if ch != nil {
			f.channels = append(f.channels, ch)
		}
	}
	return f
}

// Len returns the number of channels
func (f *Fanout) Len() int {
	return len(f.channels)
}

// Notify sends n to every channel and returns the first failure
func (f *Fanout) Notify(ctx context.Context, n models.Notification) error {
	var g errgroup.Group
	for _, ch := range f.channels {
		g.Go(func() error {
			return ch.Notify(ctx, n)
		})
	}
	return g.Wait()
}

// closer is implemented by channels holding connections
type closer interface {
	Close() error
}

// Close closes every channel that holds a connection
func (f *Fanout) Close() error {
	var first error
	for _, ch := range f.channels {
		if c, ok := ch.(closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// FromConfig builds the configured channels. A channel that cannot be
// created is logged and left out.
func FromConfig(cfg config.NotifyConfig) *Fanout {
	var channels []services.Notifier
	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	if cfg.ServiceBus.ConnectionString != "" {
		sb, err := NewServiceBusNotifier(cfg.ServiceBus, "keygate")
		if err != nil {
			log.Warn().Err(err).Msg("Service Bus notifications disabled")
		} else {
			channels = append(channels, sb)
		}
	}
	return NewFanout(channels...)
}
