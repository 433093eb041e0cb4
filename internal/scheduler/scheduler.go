// Package scheduler runs the periodic maintenance jobs: the progress reaper
// and the key sweeper.
package scheduler

import (
	"context"
	"time"

	"example.com/backstage/services/keygate/internal/metrics"
	"example.com/backstage/services/keygate/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Job names
const (
	ProgressReaper = "progress-reaper"
	KeySweeper     = "key-sweeper"
)

// Options sets job intervals
type Options struct {
	ReapInterval  time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	// RunOnStart runs both jobs as soon as the scheduler starts
	RunOnStart bool
}

// Jobs holds the registries the maintenance jobs touch
type Jobs struct {
	keys      *services.KeyRegistry
	blacklist *services.BlacklistRegistry
	tracker   *services.Tracker
	metrics   *metrics.Metrics
	opts      Options
}

// NewJobs creates the job set. m may be nil.
func NewJobs(keys *services.KeyRegistry, blacklist *services.BlacklistRegistry, tracker *services.Tracker, m *metrics.Metrics, opts Options) *Jobs {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Minute
	}
	return &Jobs{
		keys:      keys,
		blacklist: blacklist,
		tracker:   tracker,
		metrics:   m,
		opts:      opts,
	}
}

// ReapProgress drops stale progress for clients without a live key
func (j *Jobs) ReapProgress(ctx context.Context) error {
	removed, err := j.tracker.Sweep(ctx, j.opts.Retention, j.keys.HasLiveKey)
	j.metrics.JobRun(ProgressReaper, err)
	j.metrics.SetHealth("store", err == nil)
	if err != nil {
		return errors.Wrap(err, "reap progress")
	}
	log.Info().Int("removed", removed).Msg("Progress reaper finished")
	return nil
}

// SweepKeys drops lapsed keys and lapsed blacklist entries
func (j *Jobs) SweepKeys(ctx context.Context) error {
	keys, err := j.keys.SweepExpired(ctx)
	if err == nil {
		var entries int
		entries, err = j.blacklist.Sweep(ctx)
		if err == nil {
			log.Info().Int("keys", len(keys)).Int("blacklist", entries).Msg("Key sweeper finished")
		}
	}
	j.metrics.JobRun(KeySweeper, err)
	j.metrics.SetHealth("store", err == nil)
	return errors.Wrap(err, "sweep keys")
}

// Run schedules both jobs and blocks until ctx is cancelled
func (j *Jobs) Run(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	jobOpts := func(name string) []gocron.JobOption {
		opts := []gocron.JobOption{
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		}
		if j.opts.RunOnStart {
			opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}
		return opts
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(j.opts.ReapInterval),
		gocron.NewTask(func() {
			if err := j.ReapProgress(ctx); err != nil {
				log.Error().Err(err).Msg("Progress reaper failed")
			}
		}),
		jobOpts(ProgressReaper)...,
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return errors.Wrap(err, "failed to schedule progress reaper")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(j.opts.SweepInterval),
		gocron.NewTask(func() {
			if err := j.SweepKeys(ctx); err != nil {
				log.Error().Err(err).Msg("Key sweeper failed")
			}
		}),
		jobOpts(KeySweeper)...,
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return errors.Wrap(err, "failed to schedule key sweeper")
	}

	log.Info().
		Dur("reap_interval", j.opts.ReapInterval).
		Dur("sweep_interval", j.opts.SweepInterval).
		Msg("Starting scheduler")
	scheduler.Start()

	// Wait for context cancellation
	<-ctx.Done()

	log.Info().Msg("Stopping scheduler")
	return scheduler.Shutdown()
}
