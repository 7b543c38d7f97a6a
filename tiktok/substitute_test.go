package tiktok

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubstitute(t *testing.T, mutate func(*SubstituteConfig)) (*SubstituteSource, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "mock_videos.json")
	cfg := DefaultSubstituteConfig()
	cfg.FixturePath = path
	cfg.Seed = 42
	cfg.Now = func() time.Time { return testEpoch }
	cfg.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSubstituteSource(cfg), path
}

func normalized(raws []RawVideo) []VideoRecord {
	return NewNormalizer(func() time.Time { return testEpoch }).NormalizeAll(raws, SubstituteFields)
}

func TestSubstituteGeneratesAndPersistsCorpus(t *testing.T) {
	src, path := newTestSubstitute(t, nil)

	all, err := src.FetchTrending(context.Background(), Query{Count: 100})
	require.NoError(t, err)
	require.Len(t, all, 30)

	for _, r := range normalized(all) {
		assert.True(t, strings.HasPrefix(r.ID, "71"), r.ID)
		assert.Len(t, r.ID, 14)
		assert.GreaterOrEqual(t, r.Stats.ViewCount, int64(100_000))
		assert.LessOrEqual(t, r.Stats.ViewCount, int64(1_000_000))
		assert.False(t, r.CreatedAt.Before(testEpoch.AddDate(0, 0, -7)))
		assert.Len(t, r.Hashtags, 2)
	}

	_, err = os.Stat(path)
	require.NoError(t, err, "synthetic corpus must be written back")

	reloaded, err := LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, reloaded, 30)

	again, _ := newTestSubstitute(t, func(c *SubstituteConfig) {
		c.FixturePath = path
		c.Seed = 7
	})
	second, err := again.FetchTrending(context.Background(), Query{Count: 100})
	require.NoError(t, err)
	assert.Equal(t, ids(normalized(all)), ids(normalized(second)), "persisted corpus is reused")
}

func TestSubstituteRegeneratesCorruptFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mock_videos.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	src, _ := newTestSubstitute(t, func(c *SubstituteConfig) {
		c.FixturePath = path
		c.SyntheticCount = 12
	})
	got, err := src.FetchTrending(context.Background(), Query{Count: 50})
	require.NoError(t, err)
	assert.Len(t, got, 12)

	reloaded, err := LoadFixture(path)
	require.NoError(t, err)
	assert.Len(t, reloaded, 12)
}

func TestSubstituteTrendingScenario(t *testing.T) {
	src, _ := newTestSubstitute(t, nil)

	raws, err := src.FetchTrending(context.Background(), Query{Count: 10, MinViews: 500_000, SortBy: SortViews})
	require.NoError(t, err)
	got := normalized(raws)

	assert.LessOrEqual(t, len(got), 10)
	for i, r := range got {
		assert.GreaterOrEqual(t, r.Stats.ViewCount, int64(500_000))
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Stats.ViewCount, r.Stats.ViewCount)
		}
	}
}

func TestSubstituteEmptyHashtagIsTrending(t *testing.T) {
	src, _ := newTestSubstitute(t, nil)
	q := Query{Count: 5, MinViews: 200_000, SortBy: SortLikes}

	trending, err := src.FetchTrending(context.Background(), q)
	require.NoError(t, err)
	for _, tag := range []string{"", "  ", "#"} {
		viaTag, err := src.FetchByHashtag(context.Background(), tag, q)
		require.NoError(t, err)
		assert.Equal(t, trending, viaTag, "tag %q", tag)
	}
}

func TestSubstituteHashtag(t *testing.T) {
	src, _ := newTestSubstitute(t, nil)

	for _, tag := range []string{"dance", "#dance", "DANCE"} {
		raws, err := src.FetchByHashtag(context.Background(), tag, Query{Count: 20})
		require.NoError(t, err)
		require.Len(t, raws, 6, tag)
		for _, r := range normalized(raws) {
			assert.Contains(t, r.Hashtags, "#dance")
		}
	}

	none, err := src.FetchByHashtag(context.Background(), "nosuchtag", Query{Count: 5})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSubstituteHashtagFabrication(t *testing.T) {
	src, _ := newTestSubstitute(t, func(c *SubstituteConfig) { c.Fabricate = true })

	raws, err := src.FetchByHashtag(context.Background(), "nosuchtag", Query{Count: 4, MinViews: 20_000})
	require.NoError(t, err)
	require.Len(t, raws, 4)
	for _, r := range normalized(raws) {
		assert.Equal(t, []string{"#nosuchtag"}, r.Hashtags)
		assert.GreaterOrEqual(t, r.Stats.ViewCount, int64(20_000))
	}
}

func TestSubstituteUser(t *testing.T) {
	src, _ := newTestSubstitute(t, nil)

	raws, err := src.FetchByUser(context.Background(), "creator_1", Query{Count: 20})
	require.NoError(t, err)
	assert.Len(t, raws, 11, "creator_1 and creator_10..creator_19")

	byName, err := src.FetchByUser(context.Background(), "@home chef", Query{Count: 20})
	require.NoError(t, err)
	assert.Len(t, byName, 6)

	padded, _ := newTestSubstitute(t, func(c *SubstituteConfig) { c.Fabricate = true })
	raws, err = padded.FetchByUser(context.Background(), "creator_1", Query{Count: 20, SortBy: SortDate})
	require.NoError(t, err)
	assert.Len(t, raws, 20)
}

func TestSubstituteByID(t *testing.T) {
	src, _ := newTestSubstitute(t, nil)
	ctx := context.Background()

	raw, err := src.FetchByID(ctx, "71000000000004")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, "71000000000004", normalized([]RawVideo{raw})[0].ID)

	raw, err = src.FetchByID(ctx, "https://example.com/video5")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, "71000000000004", normalized([]RawVideo{raw})[0].ID)

	raw, err = src.FetchByID(ctx, "7999999999999999999")
	require.NoError(t, err)
	assert.Nil(t, raw, "fabrication disabled returns absent")
}

func TestSubstituteByIDFabrication(t *testing.T) {
	src, _ := newTestSubstitute(t, func(c *SubstituteConfig) { c.Fabricate = true })
	ctx := context.Background()

	raw, err := src.FetchByID(ctx, "7999999999999999999")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, "7999999999999999999", normalized([]RawVideo{raw})[0].ID)

	raw, err = src.FetchByID(ctx, "not-found-456")
	require.NoError(t, err)
	assert.Nil(t, raw, "only numeric ids are fabricated")
}

func TestSubstituteRateLimit(t *testing.T) {
	src, _ := newTestSubstitute(t, func(c *SubstituteConfig) { c.MaxRequests = 2 })
	ctx := context.Background()

	_, err := src.FetchTrending(ctx, Query{Count: 1})
	require.NoError(t, err)
	_, err = src.FetchByID(ctx, "71000000000000")
	require.NoError(t, err)

	_, err = src.FetchByUser(ctx, "x", Query{Count: 1})
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.True(t, IsFatal(err))
}

func TestSubstituteLatencyHonoursContext(t *testing.T) {
	cfg := DefaultSubstituteConfig()
	cfg.FixturePath = filepath.Join(t.TempDir(), "f.json")
	cfg.Latency = time.Hour
	src := NewSubstituteSource(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := src.FetchTrending(ctx, Query{Count: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSubstituteCancelledContextSpendsNoBudget(t *testing.T) {
	src, _ := newTestSubstitute(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.FetchTrending(ctx, Query{Count: 1})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = src.FetchByID(ctx, "71000000000000")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, src.Limiter().State().RequestsInWindow)
}
