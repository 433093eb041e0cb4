package cmd

import (
	"os"

	"example.com/backstage/services/keygate/config"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:   "keygate",
	Short: "Checkpoint funnel key service",
	Long: `Hands out time-limited access keys to clients that walk an ordered funnel of
checkpoints, blacklisting clients that try to skip ahead.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	RunE:              runServe,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, ./config/config.yaml, /etc/keygate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level override (debug, info, warn, error)")
}

func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return setupLogging(cfg)
}

// setupLogging configures the global zerolog logger
func setupLogging(cfg config.Config) error {
	if cfg.Environment == "development" || cfg.Logging.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.Logging.Level)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}
