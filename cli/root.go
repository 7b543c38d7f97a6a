package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"tokstats"
	"tokstats/config"
	"tokstats/internal/logging"
	"tokstats/metrics"
	"tokstats/storage"
)

// app holds the state shared by every command of one invocation.
type app struct {
	cfgFile string
	envFile string
	source  string
	verbose bool

	cfg       *config.Config
	log       *slog.Logger
	logCloser io.Closer
	metrics   *metrics.Metrics
	out       *printer
}

func newApp() *app {
	return &app{metrics: metrics.New(nil)}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tokstats",
		Short: "Fetch, filter and store TikTok video metadata",
		Long: `tokstats fetches short-video metadata from the TikTok API, or from a local
substitute corpus when no credentials are available, and normalizes, filters,
orders and stores the results.

Example usage:
  tokstats fetch trending --count 10            # Top 10 trending videos by views
  tokstats fetch hashtag dance --sort likes     # Hashtag search ordered by likes
  tokstats fetch user someone --save            # Save a creator's videos
  tokstats fetch video 7234567890123456789      # Look up videos by id or URL
  tokstats list --search dance                  # Browse saved videos
  tokstats stats                                # Summary of saved videos`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is tokstats.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file loaded before the environment (default is .env)")
	root.PersistentFlags().StringVar(&a.source, "source", "", "data source: remote or substitute")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		a.fetchCmd(),
		a.listCmd(),
		a.statsCmd(),
		a.exportCmd(),
		a.initDBCmd(),
		a.purgeCmd(),
		a.watchCmd(),
	)
	return root
}

// setup loads configuration and sets up logging.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	overrides := map[string]any{}
	if a.source != "" {
		overrides["source"] = a.source
	}
	if a.verbose {
		overrides["logging.level"] = "debug"
	}
	cfg, err := config.LoadWithOverrides(a.cfgFile, a.envFile, overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.log, a.logCloser = log, closer

	a.log.Debug("configuration loaded",
		"source", cfg.Source,
		"storage", cfg.Storage.Driver,
		"anonymize", cfg.Privacy.Anonymize)
	return nil
}

func (a *app) client(cmd *cobra.Command) (*tokstats.Client, error) {
	return tokstats.New(cmd.Context(), a.cfg, tokstats.Options{
		Logger:   a.log,
		Observer: a.metrics,
	})
}

func (a *app) store(cmd *cobra.Command) (storage.Store, error) {
	s, err := tokstats.OpenStore(cmd.Context(), a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", a.cfg.Storage.Driver, err)
	}
	return s, nil
}

// closeStore closes s, keeping err when it is already set.
func closeStore(s storage.Store, err *error) {
	if cerr := s.Close(); cerr != nil && !errors.Is(cerr, storage.ErrClosed) && *err == nil {
		*err = cerr
	}
}
