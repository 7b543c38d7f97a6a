// Package tokstats fetches short-video metadata from TikTok, normalizes it
// into one record shape and filters, orders and stores the results.
//
// Overview
//
// A Client wraps one data source and a coordinator:
//
//   - the remote source calls the platform's HTTP API with a bearer token
//   - the substitute source serves a local fixture corpus for offline use
//
// Both sources enforce a fixed-window request budget (600 and 1000 requests
// per minute) and are read through the same coordinator, so callers see the
// same VideoRecord shape regardless of where the data came from.
//
// Quick Start
//
//	cfg, err := config.Load("", "")
//	if err != nil {
//		log.Fatal(err)
//	}
//	client, err := tokstats.New(ctx, cfg, tokstats.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	videos, err := client.Trending(ctx, 10)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, v := range videos {
//		fmt.Println(v.ID, v.Stats.ViewCount)
//	}
//
// Full control over filters and ordering goes through Fetch:
//
//	records, report, err := client.Fetch(ctx, tiktok.QuerySpec{
//		Mode:     tiktok.ModeHashtag,
//		Hashtag:  "dance",
//		Count:    20,
//		MinViews: 10000,
//		SortBy:   tiktok.SortLikes,
//	})
//
// Configuration
//
// Settings come from tokstats.yaml (current directory or
// ~/.config/tokstats), TOKSTATS_* environment variables and a .env file,
// in increasing priority for the environment. The variables used by older
// deployments are still honoured:
//
//   - USE_MOCK_API: "true" selects the substitute source
//   - TIKTOK_ACCESS_TOKEN: bearer token for the remote source
//   - TIKTOK_API_KEY, TIKTOK_API_SECRET: client credentials
//   - DATABASE_URL: PostgreSQL DSN
//   - DATA_RETENTION_DAYS: purge threshold
//   - ANONYMIZE_DATA: replace creator handles before saving
//   - ENCRYPTION_KEY: base64 key for encrypted exports
//
// Error Handling
//
// Source failures are *APIError values classified by Kind. They match the
// Err* sentinels:
//
//	if errors.Is(err, tokstats.ErrAuthenticationFailed) {
//		fmt.Println("check TIKTOK_ACCESS_TOKEN")
//	}
//
// Rate limit, authentication and permission failures abort a byId batch;
// other per-video failures are skipped and listed in the fetch Report.
//
// Sub-packages
//
//   - tiktok: sources, normalization, filtering and the coordinator
//   - storage: SQLite, PostgreSQL and JSON stores
//   - export: CSV export
//   - config: configuration loading and validation
//   - metrics: Prometheus collectors
//   - http: outbound client with pacing and a circuit breaker
package tokstats
