package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"tokstats"
	"tokstats/storage"
	"tokstats/tiktok"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		interval   time.Duration
		count      int
		iterations int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Fetch and save trending videos on an interval",
		Long: `watch fetches trending videos every --interval and saves them. When
metrics.addr is set, Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if interval <= 0 {
				return errors.New("interval must be positive")
			}
			ctx := cmd.Context()

			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			store, err := a.store(cmd)
			if err != nil {
				return err
			}
			defer closeStore(store, &err)

			if addr := a.cfg.Metrics.Addr; addr != "" {
				stop := a.serveMetrics(addr)
				defer stop()
			}

			a.log.Info("watching trending", "interval", interval, "count", count)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for i := 1; ; i++ {
				if err := a.watchOnce(ctx, client, store, count); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					if stopsWatch(err) {
						return err
					}
					a.out.Warn("fetch %d failed: %v", i, err)
				}
				if iterations > 0 && i >= iterations {
					return nil
				}
				select {
				case <-ctx.Done():
					a.log.Info("watch stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Minute, "time between fetches")
	cmd.Flags().IntVarP(&count, "count", "n", tiktok.DefaultCount, "videos per fetch")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "stop after this many fetches (0 = run until interrupted)")
	return cmd
}

func (a *app) watchOnce(ctx context.Context, client *tokstats.Client, store storage.Store, count int) error {
	records, rep, fetchErr := client.Fetch(ctx, tiktok.QuerySpec{
		Mode:   tiktok.ModeTrending,
		Count:  count,
		SortBy: tiktok.SortViews,
	})
	a.metrics.ObserveLimiter(client.Source().Name(), client.Limiter())
	if rep == nil {
		return fetchErr
	}
	if err := a.saveTo(ctx, store, client, records, rep, "watch", fetchErr); err != nil && fetchErr == nil {
		return err
	}
	return fetchErr
}

// stopsWatch reports errors that another attempt cannot fix. A spent rate
// budget recovers by the next tick.
func stopsWatch(err error) bool {
	switch tiktok.KindOf(err) {
	case tiktok.KindAuthenticationFailed, tiktok.KindAccessForbidden:
		return true
	}
	return false
}

// serveMetrics starts the /metrics endpoint and returns a func that shuts
// it down.
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Warn("metrics server shutdown", "error", err)
		}
	}
}
