package cmd

import (
	"context"

	"example.com/backstage/services/keygate/internal/scheduler"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the maintenance jobs once and exit",
	Long:  `Remove expired keys and lapsed blacklist entries, then reap stale checkpoint progress`,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	jobs := scheduler.NewJobs(a.keys, a.blacklist, a.tracker, a.metrics, scheduler.Options{
		Retention: cfg.Progress.Retention,
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := jobs.SweepKeys(ctx); err != nil {
		return errors.Wrap(err, "key sweep failed")
	}
	if err := jobs.ReapProgress(ctx); err != nil {
		return errors.Wrap(err, "progress reap failed")
	}

	log.Info().Msg("Sweep complete")
	return nil
}
