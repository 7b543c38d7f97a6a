package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokstats"
	"tokstats/export"
	"tokstats/storage"
	"tokstats/tiktok"
)

// fetchFlags are shared by every fetch subcommand.
type fetchFlags struct {
	count      int
	sortBy     string
	minViews   int64
	minLikes   int64
	maxAgeDays int
	save       bool
	exportPath string
	encrypt    bool
}

func (f *fetchFlags) query(mode tiktok.Mode) tiktok.QuerySpec {
	return tiktok.QuerySpec{
		Mode:       mode,
		Count:      f.count,
		SortBy:     tiktok.ParseSortKey(f.sortBy),
		MinViews:   f.minViews,
		MinLikes:   f.minLikes,
		MaxAgeDays: f.maxAgeDays,
	}
}

func (a *app) fetchCmd() *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch videos by trending, hashtag, user or id",
	}

	pf := cmd.PersistentFlags()
	pf.IntVarP(&f.count, "count", "n", tiktok.DefaultCount, "maximum number of videos")
	pf.StringVarP(&f.sortBy, "sort", "s", string(tiktok.SortViews), "sort by views, likes, comments, shares or date")
	pf.Int64Var(&f.minViews, "min-views", 0, "only videos with at least this many views")
	pf.Int64Var(&f.minLikes, "min-likes", 0, "only videos with at least this many likes")
	pf.IntVar(&f.maxAgeDays, "max-age-days", 0, "only videos posted within this many days (0 = any age)")
	pf.BoolVar(&f.save, "save", false, "save the results to storage")
	pf.StringVarP(&f.exportPath, "export", "o", "", "write the results to a CSV file")
	pf.BoolVar(&f.encrypt, "encrypt", false, "encrypt the CSV export with privacy.encryption_key")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "trending",
			Short: "Fetch trending videos",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runFetch(cmd, f, f.query(tiktok.ModeTrending), "trending")
			},
		},
		&cobra.Command{
			Use:   "hashtag [tag]",
			Short: "Fetch videos for a hashtag; without a tag this is trending",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				q := f.query(tiktok.ModeHashtag)
				if len(args) == 1 {
					q.Hashtag = args[0]
				}
				return a.runFetch(cmd, f, q, "#"+strings.TrimPrefix(q.Hashtag, "#"))
			},
		},
		&cobra.Command{
			Use:   "user <handle>",
			Short: "Fetch videos posted by a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				q := f.query(tiktok.ModeUser)
				q.Username = strings.TrimPrefix(args[0], "@")
				return a.runFetch(cmd, f, q, "@"+q.Username)
			},
		},
		&cobra.Command{
			Use:     "video <id-or-url>...",
			Aliases: []string{"videos", "id"},
			Short:   "Look up videos by id or share URL",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				q := f.query(tiktok.ModeByID)
				q.VideoIDs = args
				if !cmd.Flags().Changed("count") {
					q.Count = 0
				}
				return a.runFetch(cmd, f, q, strings.Join(args, ","))
			},
		},
	)
	return cmd
}

func (a *app) runFetch(cmd *cobra.Command, f *fetchFlags, q tiktok.QuerySpec, label string) error {
	ctx := cmd.Context()
	if !q.SortBy.Valid() {
		a.out.Warn("unknown sort key %q, keeping source order", q.SortBy)
	}

	client, err := a.client(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	records, rep, fetchErr := client.Fetch(ctx, q)
	a.metrics.ObserveLimiter(client.Source().Name(), client.Limiter())

	if f.save && rep != nil {
		if serr := a.save(ctx, client, records, rep, label, fetchErr); serr != nil {
			if fetchErr == nil {
				return serr
			}
			a.out.Warn("could not record fetch: %v", serr)
		}
	}
	if fetchErr != nil {
		return fetchErr
	}

	for _, s := range rep.Skipped {
		if s.Kind != tiktok.KindResourceNotFound {
			a.out.Warn("skipped %s: %s", s.Input, s.Kind)
		}
	}

	rows := client.Rows(records)
	if len(rows) == 0 {
		a.out.Info("No videos found.")
	} else if err := a.out.Videos(rows); err != nil {
		return err
	}

	if f.exportPath != "" {
		if err := a.export(f.exportPath, rows, f.encrypt); err != nil {
			return err
		}
	}

	a.out.Info("%d of %d videos from %s in %s", rep.Returned, rep.Fetched, rep.Source, rep.Elapsed.Round(time.Millisecond))
	return nil
}

// save opens the store and records one fetch in it.
func (a *app) save(ctx context.Context, client *tokstats.Client, records []tiktok.VideoRecord, rep *tiktok.Report, label string, fetchErr error) (err error) {
	store, err := tokstats.OpenStore(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer closeStore(store, &err)
	return a.saveTo(ctx, store, client, records, rep, label, fetchErr)
}

// saveTo upserts the records and appends the fetch to the run history.
func (a *app) saveTo(ctx context.Context, store storage.Store, client *tokstats.Client, records []tiktok.VideoRecord, rep *tiktok.Report, label string, fetchErr error) error {
	if fetchErr == nil && len(records) > 0 {
		n, err := store.UpsertVideos(ctx, client.Rows(records))
		if err != nil {
			return err
		}
		a.metrics.ObserveSaved(n)
		a.out.Success("Saved %d videos to %s storage", n, a.cfg.Storage.Driver)
	}
	return store.RecordFetchRun(ctx, storage.RunFromReport(rep, label, fetchErr))
}

func (a *app) export(path string, rows []storage.Video, encrypt bool) error {
	var sealer export.Sealer
	if encrypt || a.cfg.Privacy.Encrypt {
		s, err := tokstats.NewSealer(a.cfg)
		if err != nil {
			return fmt.Errorf("export encryption: %w", err)
		}
		sealer = s
	}
	if err := export.ToFile(path, rows, sealer); err != nil {
		return err
	}
	if sealer != nil {
		a.out.Success("Exported %d encrypted videos to %s", len(rows), path)
	} else {
		a.out.Success("Exported %d videos to %s", len(rows), path)
	}
	return nil
}
