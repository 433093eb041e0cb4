package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/keygate/internal/api"
	"example.com/backstage/services/keygate/internal/scheduler"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the maintenance jobs",
	Long:  `Start the funnel, verification and admin HTTP server together with the progress reaper and key sweeper`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	server, err := api.NewServer(cfg, api.Deps{
		Gate:      a.gate,
		Keys:      a.keys,
		Blacklist: a.blacklist,
		Tracker:   a.tracker,
		Queue:     a.queue,
		Payments:  a.payments,
		Audit:     a.audit,
		Metrics:   a.metrics,
		Tracer:    a.tracer,
		Checks:    a.healthChecks(),
	})
	if err != nil {
		return err
	}

	jobs := scheduler.NewJobs(a.keys, a.blacklist, a.tracker, a.metrics, scheduler.Options{
		ReapInterval:  cfg.Progress.ReapInterval,
		Retention:     cfg.Progress.Retention,
		SweepInterval: cfg.Keys.SweepInterval,
		RunOnStart:    true,
	})

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		return jobs.Run(ctx)
	})

	g.Go(func() error {
		// Wait for termination signal or a failed sibling
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
		return err
	}

	log.Info().Msg("Service stopped")
	return nil
}
