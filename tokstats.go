package tokstats

import (
	"context"
	"fmt"
	"log/slog"

	"tokstats/config"
	thttp "tokstats/http"
	"tokstats/internal/cache"
	"tokstats/internal/protect"
	"tokstats/storage"
	"tokstats/tiktok"
)

// Options carries collaborators that do not come from configuration.
type Options struct {
	Logger   *slog.Logger
	Observer tiktok.Observer
	// HTTP replaces the outbound client of the remote source.
	HTTP tiktok.Doer
}

// Client bundles the configured data source and coordinator.
type Client struct {
	cfg   *config.Config
	src   tiktok.DataSource
	coord *tiktok.Coordinator
	cache *cache.Tiered
	log   *slog.Logger
}

// New builds the data source selected by cfg.Source and a Coordinator over it.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{cfg: cfg, log: opts.Logger}
	switch cfg.Source {
	case config.SourceRemote:
		c.src = c.newRemote(ctx, opts)
	case config.SourceSubstitute:
		c.src = tiktok.NewSubstituteSource(tiktok.SubstituteConfig{
			FixturePath:    cfg.Substitute.FixturePath,
			SyntheticCount: cfg.Substitute.SyntheticCount,
			Latency:        cfg.Substitute.Latency,
			MaxRequests:    cfg.Substitute.RateLimit,
			Window:         cfg.Substitute.RateWindow,
			Fabricate:      cfg.Substitute.Fabricate,
			Seed:           cfg.Substitute.Seed,
			Logger:         opts.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}

	c.coord = tiktok.NewCoordinator(c.src, tiktok.CoordinatorConfig{
		FailFast:    !cfg.Batch.SkipOnError,
		Concurrency: cfg.Batch.Concurrency,
		Logger:      opts.Logger,
		Observer:    opts.Observer,
	})
	opts.Logger.Debug("client ready", "source", c.src.Name())
	return c, nil
}

func (c *Client) newRemote(ctx context.Context, opts Options) *tiktok.RemoteSource {
	doer := opts.HTTP
	if doer == nil {
		hc := thttp.DefaultConfig()
		hc.Timeout = c.cfg.API.Timeout
		hc.Pacer.RequestsPerSecond = c.cfg.API.PacingRPS
		doer = thttp.New(hc)
	}

	rc := tiktok.RemoteConfig{
		BaseURL:     c.cfg.API.BaseURL,
		AccessToken: c.cfg.API.AccessToken,
		MaxRequests: c.cfg.API.RateLimit,
		Window:      c.cfg.API.RateWindow,
		HTTP:        doer,
		CacheTTL:    c.cfg.API.CacheTTL,
		Logger:      opts.Logger,
	}
	if c.cfg.API.CacheTTL > 0 {
		c.cache = cache.New(ctx, cache.Config{
			RedisURL:   c.cfg.API.RedisURL,
			MaxEntries: 1000,
			Logger:     opts.Logger,
		})
		rc.Cache = c.cache
	}
	return tiktok.NewRemoteSource(rc)
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config { return c.cfg }

// Source returns the active data source.
func (c *Client) Source() tiktok.DataSource { return c.src }

// Limiter returns the source's rate limiter, or nil for sources without one.
func (c *Client) Limiter() *tiktok.RateLimiter {
	if l, ok := c.src.(interface{ Limiter() *tiktok.RateLimiter }); ok {
		return l.Limiter()
	}
	return nil
}

// Fetch runs q through the coordinator.
func (c *Client) Fetch(ctx context.Context, q tiktok.QuerySpec) ([]tiktok.VideoRecord, *tiktok.Report, error) {
	return c.coord.FetchWithReport(ctx, q)
}

// Trending returns up to count trending videos ordered by views.
func (c *Client) Trending(ctx context.Context, count int) ([]tiktok.VideoRecord, error) {
	return c.coord.Fetch(ctx, tiktok.QuerySpec{Mode: tiktok.ModeTrending, Count: count, SortBy: tiktok.SortViews})
}

// Hashtag returns up to count videos tagged with tag.
func (c *Client) Hashtag(ctx context.Context, tag string, count int) ([]tiktok.VideoRecord, error) {
	return c.coord.Fetch(ctx, tiktok.QuerySpec{Mode: tiktok.ModeHashtag, Hashtag: tag, Count: count, SortBy: tiktok.SortViews})
}

// User returns up to count videos posted by handle.
func (c *Client) User(ctx context.Context, handle string, count int) ([]tiktok.VideoRecord, error) {
	return c.coord.Fetch(ctx, tiktok.QuerySpec{Mode: tiktok.ModeUser, Username: handle, Count: count, SortBy: tiktok.SortViews})
}

// Videos looks up ids or share URLs, skipping the ones that cannot be found.
func (c *Client) Videos(ctx context.Context, ids ...string) ([]tiktok.VideoRecord, error) {
	return c.coord.Fetch(ctx, tiktok.QuerySpec{Mode: tiktok.ModeByID, VideoIDs: ids})
}

// Rows converts records to storage rows, anonymizing creators when
// privacy.anonymize is on.
func (c *Client) Rows(records []tiktok.VideoRecord) []storage.Video {
	rows := storage.FromRecords(records)
	if !c.cfg.Privacy.Anonymize {
		return rows
	}
	for i := range rows {
		rows[i].CreatorID = protect.AnonymizeHandle(rows[i].CreatorID)
		rows[i].CreatorName = protect.AnonymousName
	}
	return rows
}

// Close releases the source and the cache.
func (c *Client) Close() error {
	err := c.src.Close()
	if c.cache != nil {
		if cerr := c.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// OpenStore opens the store selected by cfg.Storage.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	return storage.Open(ctx, storage.Options{
		Driver:         cfg.Storage.Driver,
		SQLitePath:     cfg.Storage.SQLitePath,
		PostgresDSN:    cfg.Storage.PostgresDSN,
		JSONPath:       cfg.Storage.JSONPath,
		ConnectRetries: cfg.Storage.ConnectRetries,
		ConnectDelay:   cfg.Storage.ConnectDelay,
		Logger:         log,
	})
}

// NewSealer returns the export sealer configured by cfg.Privacy.
func NewSealer(cfg *config.Config) (*protect.Sealer, error) {
	return protect.NewSealerBase64(cfg.Privacy.EncryptionKey)
}
