package tiktok

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// SubstituteConfig configures a SubstituteSource.
type SubstituteConfig struct {
	// FixturePath is the JSON corpus. When it is missing or unreadable a
	// synthetic corpus is generated and written back here.
	FixturePath string
	// SyntheticCount is the size of a generated corpus.
	SyntheticCount int
	// Latency is the artificial delay added to every call.
	Latency time.Duration
	// MaxRequests and Window define the local request budget.
	MaxRequests int
	Window      time.Duration
	// Fabricate enables padding of short user/hashtag results and invented
	// records for unknown numeric ids. Test fixtures only.
	Fabricate bool
	// Seed fixes the random source. Zero seeds from the clock.
	Seed uint64

	Logger *slog.Logger
	Now    func() time.Time
	// Sleep replaces the latency wait. It must honour ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultSubstituteConfig returns the settings used when none are given.
func DefaultSubstituteConfig() SubstituteConfig {
	return SubstituteConfig{
		FixturePath:    "data/mock_videos.json",
		SyntheticCount: 30,
		Latency:        500 * time.Millisecond,
		MaxRequests:    SubstituteMaxRequests,
		Window:         DefaultRateWindow,
	}
}

// SubstituteSource serves queries from a local corpus without network
// access.
type SubstituteSource struct {
	cfg     SubstituteConfig
	limiter *RateLimiter
	norm    *Normalizer
	fs      *FilterSort
	log     *slog.Logger

	loadOnce sync.Once
	corpus   []RawVideo
	records  []VideoRecord

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSubstituteSource returns a source reading cfg.FixturePath on first use.
func NewSubstituteSource(cfg SubstituteConfig) *SubstituteSource {
	def := DefaultSubstituteConfig()
	if cfg.SyntheticCount <= 0 {
		cfg.SyntheticCount = def.SyntheticCount
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Latency < 0 {
		cfg.Latency = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &SubstituteSource{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.MaxRequests, cfg.Window).WithClock(cfg.Now),
		norm:    NewNormalizer(cfg.Now),
		fs:      NewFilterSort(cfg.Now),
		log:     cfg.Logger.With("source", "substitute"),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Name implements DataSource.
func (s *SubstituteSource) Name() string { return "substitute" }

// FieldMap implements DataSource.
func (s *SubstituteSource) FieldMap() FieldMap { return SubstituteFields }

// Limiter exposes the source's rate limiter.
func (s *SubstituteSource) Limiter() *RateLimiter { return s.limiter }

// Close implements DataSource.
func (s *SubstituteSource) Close() error { return nil }

// FetchTrending implements DataSource.
func (s *SubstituteSource) FetchTrending(ctx context.Context, q Query) ([]RawVideo, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	return s.pick(s.corpus, s.records, nil, q), nil
}

// FetchByHashtag implements DataSource. Matching is on the extracted tag
// set, case-insensitively.
func (s *SubstituteSource) FetchByHashtag(ctx context.Context, tag string, q Query) ([]RawVideo, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
	if tag == "" {
		return s.FetchTrending(ctx, q)
	}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	want := "#" + tag
	match := func(r VideoRecord) bool {
		for _, h := range r.Hashtags {
			if strings.EqualFold(h, want) {
				return true
			}
		}
		return false
	}

	raws, recs := s.corpus, s.records
	if s.cfg.Fabricate {
		if short := q.Count - countMatching(recs, func(r VideoRecord) bool {
			return match(r) && r.Stats.ViewCount >= q.MinViews
		}); short > 0 {
			raws, recs = s.extend(raws, recs, s.generator().forHashtag(tag, short, q.MinViews))
		}
	}
	return s.pick(raws, recs, match, q), nil
}

// FetchByUser implements DataSource. The handle matches as a
// case-insensitive substring of either the handle or the display name.
func (s *SubstituteSource) FetchByUser(ctx context.Context, handle string, q Query) ([]RawVideo, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
	match := func(r VideoRecord) bool {
		return strings.Contains(strings.ToLower(r.Creator.Handle), needle) ||
			strings.Contains(strings.ToLower(r.Creator.DisplayName), needle)
	}

	raws, recs := s.corpus, s.records
	if s.cfg.Fabricate && needle != "" {
		if short := q.Count - countMatching(recs, match); short > 0 {
			raws, recs = s.extend(raws, recs, s.generator().forUser(needle, short))
		}
	}
	return s.pick(raws, recs, match, q), nil
}

// FetchByID implements DataSource. id may also be a playback URL from the
// corpus. Unknown ids yield (nil, nil) unless fabrication is enabled and
// the id is numeric.
func (s *SubstituteSource) FetchByID(ctx context.Context, id string) (RawVideo, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	for i, r := range s.records {
		if r.ID == id || (r.PlaybackURL != "" && r.PlaybackURL == id) {
			return s.corpus[i], nil
		}
	}

	if s.cfg.Fabricate && isDigits(id) {
		s.log.Debug("fabricating record for unknown id", "id", id)
		return s.generator().forID(id), nil
	}
	return nil, nil
}

// begin runs the per-call prologue: budget check, corpus load, latency. An
// abandoned call spends no budget.
func (s *SubstituteSource) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.limiter.Check(); err != nil {
		return err
	}
	s.loadOnce.Do(s.load)
	if s.cfg.Latency > 0 {
		return s.cfg.Sleep(ctx, s.cfg.Latency)
	}
	return ctx.Err()
}

func (s *SubstituteSource) load() {
	corpus, err := LoadFixture(s.cfg.FixturePath)
	if err != nil || len(corpus) == 0 {
		s.log.Warn("fixture unavailable, generating synthetic corpus",
			"path", s.cfg.FixturePath, "count", s.cfg.SyntheticCount, "error", err)
		corpus = s.generator().corpus(s.cfg.SyntheticCount)
		if s.cfg.FixturePath != "" {
			if err := SaveFixture(s.cfg.FixturePath, corpus); err != nil {
				s.log.Warn("persist synthetic corpus", "path", s.cfg.FixturePath, "error", err)
			}
		}
	}
	s.corpus = corpus
	s.records = s.norm.NormalizeAll(corpus, SubstituteFields)
}

// pick returns the raws whose records satisfy match and q, ordered and
// truncated the same way the Coordinator would.
func (s *SubstituteSource) pick(raws []RawVideo, recs []VideoRecord, match func(VideoRecord) bool, q Query) []RawVideo {
	candidates := make([]VideoRecord, 0, len(recs))
	origin := make([]int, 0, len(recs))
	for i, r := range recs {
		if match == nil || match(r) {
			candidates = append(candidates, r)
			origin = append(origin, i)
		}
	}

	idx := s.fs.Select(candidates, Options{
		MinViews:   q.MinViews,
		MinLikes:   q.MinLikes,
		MaxAgeDays: q.MaxAgeDays,
		SortBy:     q.SortBy,
		Count:      q.Count,
	})
	out := make([]RawVideo, 0, len(idx))
	for _, j := range idx {
		out = append(out, raws[origin[j]])
	}
	return out
}

// extend returns copies of raws/recs with extra appended.
func (s *SubstituteSource) extend(raws []RawVideo, recs []VideoRecord, extra []RawVideo) ([]RawVideo, []VideoRecord) {
	outRaw := append(append(make([]RawVideo, 0, len(raws)+len(extra)), raws...), extra...)
	outRec := append(append(make([]VideoRecord, 0, len(recs)+len(extra)), recs...),
		s.norm.NormalizeAll(extra, SubstituteFields)...)
	return outRaw, outRec
}

// generator returns a fixtureGenerator sharing the source's random stream.
// The caller must not retain it.
func (s *SubstituteSource) generator() *fixtureGenerator {
	s.rngMu.Lock()
	seed := s.rng.Uint64()
	s.rngMu.Unlock()
	return &fixtureGenerator{rng: rand.New(rand.NewPCG(seed, seed>>1|1)), now: s.cfg.Now()}
}

func countMatching(recs []VideoRecord, match func(VideoRecord) bool) int {
	n := 0
	for _, r := range recs {
		if match(r) {
			n++
		}
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
