package tiktok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultCount is used when a QuerySpec leaves Count unset.
const DefaultCount = 20

// ErrInvalidQuery is wrapped by QuerySpec.Validate failures.
var ErrInvalidQuery = errors.New("tiktok: invalid query")

// QuerySpec is one fetch request.
type QuerySpec struct {
	Mode       Mode
	Count      int
	SortBy     SortKey
	MinViews   int64
	MinLikes   int64
	MaxAgeDays int

	// Hashtag is used by ModeHashtag; empty means trending.
	Hashtag string
	// Username is used by ModeUser.
	Username string
	// VideoIDs are ids or share URLs for ModeByID.
	VideoIDs []string
}

// Validate reports the first problem with q.
func (q QuerySpec) Validate() error {
	switch q.Mode {
	case ModeTrending, ModeHashtag:
	case ModeUser:
		if q.Username == "" {
			return fmt.Errorf("%w: user mode needs a username", ErrInvalidQuery)
		}
	case ModeByID:
		if len(q.VideoIDs) == 0 {
			return fmt.Errorf("%w: byId mode needs at least one video id", ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
	}
	if q.Count < 0 {
		return fmt.Errorf("%w: count must not be negative", ErrInvalidQuery)
	}
	if q.MinViews < 0 || q.MinLikes < 0 {
		return fmt.Errorf("%w: minimum thresholds must not be negative", ErrInvalidQuery)
	}
	if q.MaxAgeDays < 0 {
		return fmt.Errorf("%w: max age must not be negative", ErrInvalidQuery)
	}
	return nil
}

func (q QuerySpec) effectiveCount() int {
	if q.Count > 0 {
		return q.Count
	}
	if q.Mode == ModeByID {
		return len(q.VideoIDs)
	}
	return DefaultCount
}

func (q QuerySpec) sourceQuery() Query {
	return Query{
		Count:      q.effectiveCount(),
		MinViews:   q.MinViews,
		MinLikes:   q.MinLikes,
		MaxAgeDays: q.MaxAgeDays,
		SortBy:     q.SortBy,
	}
}

// Observer receives per-fetch measurements. The metrics package provides
// a Prometheus implementation.
type Observer interface {
	ObserveFetch(mode, source, status string, records int, elapsed time.Duration)
	ObserveSkip(mode, source, kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, string, string, int, time.Duration) {}
func (nopObserver) ObserveSkip(string, string, string)                      {}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// FailFast aborts a byId batch on the first per-item error instead of
	// skipping it. Fatal kinds always abort.
	FailFast bool
	// Concurrency bounds parallel byId lookups. Values below 1 mean 1.
	Concurrency int

	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

// Skip records one byId item left out of a batch.
type Skip struct {
	Input string
	ID    string
	Kind  Kind
	Err   error
}

// Report describes a completed fetch.
type Report struct {
	FetchID  string
	Mode     Mode
	Source   string
	Fetched  int
	Returned int
	Skipped  []Skip
	Started  time.Time
	Elapsed  time.Duration
}

// Coordinator dispatches QuerySpecs to a DataSource and turns the raw
// results into filtered, ordered VideoRecords.
type Coordinator struct {
	src  DataSource
	cfg  CoordinatorConfig
	norm *Normalizer
	fs   *FilterSort
	log  *slog.Logger
	obs  Observer
	now  func() time.Time
}

// NewCoordinator returns a Coordinator reading from src.
func NewCoordinator(src DataSource, cfg CoordinatorConfig) *Coordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		src:  src,
		cfg:  cfg,
		norm: NewNormalizer(cfg.Now),
		fs:   NewFilterSort(cfg.Now),
		log:  cfg.Logger,
		obs:  cfg.Observer,
		now:  cfg.Now,
	}
}

// Source returns the underlying DataSource.
func (c *Coordinator) Source() DataSource { return c.src }

// Fetch runs q and returns the matching records. Nothing matching is an
// empty slice, not an error.
func (c *Coordinator) Fetch(ctx context.Context, q QuerySpec) ([]VideoRecord, error) {
	recs, _, err := c.FetchWithReport(ctx, q)
	return recs, err
}

// FetchWithReport is Fetch plus a Report of what happened.
func (c *Coordinator) FetchWithReport(ctx context.Context, q QuerySpec) ([]VideoRecord, *Report, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	rep := &Report{
		FetchID: uuid.NewString(),
		Mode:    q.Mode,
		Source:  c.src.Name(),
		Started: c.now(),
	}
	log := c.log.With("fetch_id", rep.FetchID, "mode", string(q.Mode), "source", rep.Source)

	raws, err := c.collect(ctx, q, rep, log)
	if err != nil && IsNotFound(err) {
		log.Debug("nothing found", "error", err)
		raws, err = nil, nil
	}
	rep.Elapsed = time.Since(start)
	if err != nil {
		c.obs.ObserveFetch(string(q.Mode), rep.Source, KindOf(err).String(), 0, rep.Elapsed)
		log.Error("fetch failed", "kind", KindOf(err).String(), "error", err)
		return nil, rep, err
	}

	records := c.norm.NormalizeAll(raws, c.src.FieldMap())
	rep.Fetched = len(records)

	out := c.fs.Apply(records, Options{
		MinViews:   q.MinViews,
		MinLikes:   q.MinLikes,
		MaxAgeDays: q.MaxAgeDays,
		SortBy:     q.SortBy,
		Count:      q.effectiveCount(),
	})
	rep.Returned = len(out)

	c.obs.ObserveFetch(string(q.Mode), rep.Source, "ok", len(out), rep.Elapsed)
	log.Info("fetch complete",
		"fetched", rep.Fetched,
		"records", rep.Returned,
		"skipped", len(rep.Skipped),
		"duration", rep.Elapsed)
	return out, rep, nil
}

func (c *Coordinator) collect(ctx context.Context, q QuerySpec, rep *Report, log *slog.Logger) ([]RawVideo, error) {
	sq := q.sourceQuery()
	switch q.Mode {
	case ModeTrending:
		return c.src.FetchTrending(ctx, sq)
	case ModeHashtag:
		return c.src.FetchByHashtag(ctx, q.Hashtag, sq)
	case ModeUser:
		return c.src.FetchByUser(ctx, q.Username, sq)
	case ModeByID:
		return c.collectByID(ctx, q, rep, log)
	}
	return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
}

// collectByID looks up every id, keeping input order. Per-item failures are
// skipped unless FailFast is set; fatal kinds abort the batch.
func (c *Coordinator) collectByID(ctx context.Context, q QuerySpec, rep *Report, log *slog.Logger) ([]RawVideo, error) {
	results := make([]RawVideo, len(q.VideoIDs))
	skips := make([]*Skip, len(q.VideoIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for i, input := range q.VideoIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id := ExtractVideoID(input)
			raw, err := c.src.FetchByID(gctx, id)
			switch {
			case err == nil && raw != nil:
				results[i] = raw
				return nil
			case err == nil || IsNotFound(err):
				skips[i] = &Skip{Input: input, ID: id, Kind: KindResourceNotFound, Err: err}
				return nil
			case IsFatal(err) || c.cfg.FailFast:
				return err
			default:
				skips[i] = &Skip{Input: input, ID: id, Kind: KindOf(err), Err: err}
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]RawVideo, 0, len(results))
	for i, raw := range results {
		if raw != nil {
			out = append(out, raw)
			continue
		}
		if s := skips[i]; s != nil {
			rep.Skipped = append(rep.Skipped, *s)
			c.obs.ObserveSkip(string(q.Mode), rep.Source, s.Kind.String())
			if s.Kind == KindResourceNotFound {
				log.Debug("video not found", "id", s.ID)
			} else {
				log.Warn("skipping video", "id", s.ID, "kind", s.Kind.String(), "error", s.Err)
			}
		}
	}
	return out, nil
}
