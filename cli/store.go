package main

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"tokstats/storage"
)

func (a *app) listCmd() *cobra.Command {
	var opts storage.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.store(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store, &err)

			videos, err := store.ListVideos(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(videos) == 0 {
				a.out.Info("No saved videos.")
				return nil
			}
			return a.out.Videos(videos)
		},
	}
	cmd.Flags().StringVarP(&opts.SortBy, "sort", "s", "views", "sort by views, likes, comments, shares, date or fetched")
	cmd.Flags().StringVar(&opts.Search, "search", "", "match creator or hashtag substring")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", storage.DefaultListLimit, "maximum rows")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize saved videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.store(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store, &err)

			stats, err := store.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return a.out.Stats(stats)
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		opts    storage.ListOptions
		encrypt bool
	)
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export saved videos to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.store(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store, &err)

			if opts.Limit <= 0 {
				opts.Limit = math.MaxInt32
			}
			videos, err := store.ListVideos(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.export(args[0], videos, encrypt)
		},
	}
	cmd.Flags().StringVarP(&opts.SortBy, "sort", "s", "views", "sort by views, likes, comments, shares, date or fetched")
	cmd.Flags().StringVar(&opts.Search, "search", "", "match creator or hashtag substring")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum rows (0 = all)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the file with privacy.encryption_key")
	return cmd
}

func (a *app) initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the storage schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.store(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store, &err)
			a.out.Success("%s storage ready", a.cfg.Storage.Driver)
			return nil
		},
	}
}

func (a *app) purgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete videos fetched longer ago than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if !cmd.Flags().Changed("days") {
				days = a.cfg.Storage.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("retention must be at least one day, got %d", days)
			}

			store, err := a.store(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store, &err)

			cutoff := time.Now().AddDate(0, 0, -days)
			n, err := store.PurgeOlderThan(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			a.log.Info("purged videos", "count", n, "cutoff", cutoff)
			a.out.Success("Purged %d videos fetched before %s", n, cutoff.Format(time.DateOnly))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default storage.retention_days)")
	return cmd
}
