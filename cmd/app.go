package cmd

import (
	"context"
	"time"

	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/api/handlers"
	"example.com/backstage/services/keygate/internal/gate"
	"example.com/backstage/services/keygate/internal/metrics"
	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/notify"
	"example.com/backstage/services/keygate/internal/search"
	"example.com/backstage/services/keygate/internal/services"
	"example.com/backstage/services/keygate/internal/store"
	"example.com/backstage/services/keygate/internal/tracing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// app is the wired set of components shared by the commands
type app struct {
	backend   store.Backend
	metrics   *metrics.Metrics
	tracer    *newrelic.Application
	audit     *search.AuditIndexer
	fanout    *notify.Fanout
	keys      *services.KeyRegistry
	blacklist *services.BlacklistRegistry
	tracker   *services.Tracker
	queue     *services.NotificationQueue
	payments  *services.Payments
	gate      *gate.Gate
}

func newApp(cfg config.Config) (*app, error) {
	backend, err := store.Open(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open record store")
	}
	log.Info().Str("driver", cfg.Storage.Driver).Msg("Record store opened")

	a := &app{backend: backend}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewMetrics()
	}

	a.tracer, err = tracing.NewApplication(cfg.NewRelic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize New Relic, continuing without tracing")
	}

	if cfg.Elastic.Enabled {
		a.audit, err = search.NewAuditIndexer(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit trail")
		}
	}

	bypassTTL, err := services.ParseTTL(cfg.Blacklist.BypassDuration)
	if err != nil {
		backend.Close()
		return nil, errors.Wrap(err, "invalid blacklist.bypass_duration")
	}

	a.tracker = services.NewTracker(store.NewCollection[models.ProgressRecord](backend, store.Progress), time.Now)
	a.keys = services.NewKeyRegistry(store.NewCollection[models.AccessKey](backend, store.Keys), a.tracker, services.KeyOptions{
		Prefix:          cfg.Keys.Prefix,
		DefaultMaxUsers: cfg.Keys.DefaultMaxUsers,
		DefaultTTL:      cfg.Keys.DefaultTTL,
		Clock:           time.Now,
		Observers:       []services.KeyObserver{a.metrics, a.audit},
	})
	a.blacklist = services.NewBlacklistRegistry(store.NewCollection[models.BlacklistEntry](backend, store.Blacklist), time.Now)
	a.payments = services.NewPayments(a.keys, a.blacklist)

	a.fanout = notify.FromConfig(cfg.Notify)
	var notifier services.Notifier
	if a.fanout.Len() > 0 {
		notifier = a.fanout
	}
	a.queue = services.NewNotificationQueue(store.NewCollection[models.Notification](backend, store.Notifications), notifier, cfg.Notify.Timeout, time.Now)

	a.gate = gate.New(gate.NewFunnel(cfg.Funnel), a.blacklist, a.tracker, gate.Options{
		BypassReason: cfg.Blacklist.BypassReason,
		BypassTTL:    bypassTTL,
		Recorder:     a.metrics,
		Auditor:      a.audit,
	})

	return a, nil
}

// healthChecks probes the record store through the keys collection
func (a *app) healthChecks() map[string]handlers.HealthCheck {
	return map[string]handlers.HealthCheck{
		"store": func(ctx context.Context) error {
			_, err := a.keys.List(ctx)
			return err
		},
	}
}

// close drains background work and releases connections
func (a *app) close() {
	a.queue.Wait()
	a.audit.Wait()
	if err := a.fanout.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close notifiers")
	}
	if err := a.backend.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close record store")
	}
	tracing.Shutdown(a.tracer)
}
