package tiktok

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"tokstats/internal/fileutil"
)

var (
	fixtureCreators = []string{"Trending Creator", "Comedy Creator", "Home Chef", "Dancer", "Makeup Artist"}
	fixtureTags     = [][]string{
		{"#dance", "#viral"},
		{"#comedy", "#funny"},
		{"#cooking", "#quickrecipe"},
		{"#trending", "#fyp"},
		{"#makeup", "#beauty"},
	}
)

// LoadFixture reads a JSON array of raw videos from path.
func LoadFixture(path string) ([]RawVideo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	videos, err := decodeRawVideos(data)
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return videos, nil
}

// SaveFixture writes videos to path atomically as an indented JSON array.
func SaveFixture(path string, videos []RawVideo) error {
	data, err := json.MarshalIndent(videos, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	return fileutil.WriteFile(path, data)
}

// fixtureGenerator builds plausible raw records in the substitute layout.
type fixtureGenerator struct {
	rng *rand.Rand
	now time.Time
}

// corpus generates n records with ids 71000000000000, 71000000000001, ...
// Views fall in [100000, 1000000] and creation times within the last week.
func (g *fixtureGenerator) corpus(n int) []RawVideo {
	videos := make([]RawVideo, 0, n)
	for i := range n {
		views := g.between(100_000, 1_000_000)
		created := g.now.AddDate(0, 0, -int(g.between(0, 7)))
		videos = append(videos, g.video(videoSeed{
			id:          fmt.Sprintf("71%012d", i),
			desc:        "Sample clip " + strings.Join(fixtureTags[i%len(fixtureTags)], " "),
			handle:      fmt.Sprintf("creator_%d", i),
			displayName: fixtureCreators[i%len(fixtureCreators)],
			views:       views,
			created:     created,
			musicTitle:  fmt.Sprintf("Popular Track %d", i+1),
			musicAuthor: fmt.Sprintf("Artist %d", i+1),
			url:         fmt.Sprintf("https://example.com/video%d", i+1),
		}))
	}
	return videos
}

// forUser fabricates n records posted by handle.
func (g *fixtureGenerator) forUser(handle string, n int) []RawVideo {
	videos := make([]RawVideo, 0, n)
	for i := range n {
		videos = append(videos, g.video(videoSeed{
			id:          fmt.Sprintf("user_%s_%04d", handle, i),
			desc:        fmt.Sprintf("%s clip %d #creator", handle, i+1),
			handle:      handle,
			displayName: handle,
			views:       g.between(50_000, 800_000),
			created:     g.now.AddDate(0, 0, -int(g.between(0, 30))),
			musicTitle:  fmt.Sprintf("Track used by %s %d", handle, i+1),
			musicAuthor: "Background Artist",
			url:         fmt.Sprintf("https://example.com/%s/video%d", handle, i+1),
		}))
	}
	return videos
}

// forHashtag fabricates n records carrying tag (without '#').
func (g *fixtureGenerator) forHashtag(tag string, n int, minViews int64) []RawVideo {
	videos := make([]RawVideo, 0, n)
	floor := max(minViews, 10_000)
	for i := range n {
		idx := i % len(fixtureCreators)
		videos = append(videos, g.video(videoSeed{
			id:          fmt.Sprintf("hashtag_%s_%04d", tag, i),
			desc:        fmt.Sprintf("#%s related clip %d", tag, i+1),
			handle:      fmt.Sprintf("creator_%d", idx),
			displayName: fixtureCreators[idx],
			views:       g.between(floor, max(floor, 1_000_000)),
			created:     g.now.AddDate(0, 0, -int(g.between(0, 14))),
			musicTitle:  fmt.Sprintf("#%s hit %d", tag, i+1),
			musicAuthor: "Trending Artist",
			url:         fmt.Sprintf("https://example.com/hashtag/%s/video%d", tag, i+1),
		}))
	}
	return videos
}

// forID fabricates a single record for an unknown numeric id.
func (g *fixtureGenerator) forID(id string) RawVideo {
	return g.video(videoSeed{
		id:          id,
		desc:        "Fetched clip #video",
		handle:      "unknown_creator",
		displayName: "Unknown Creator",
		views:       g.between(50_000, 1_000_000),
		created:     g.now.AddDate(0, 0, -int(g.between(1, 30))),
		musicTitle:  "Unknown Track",
		musicAuthor: "Unknown Artist",
		url:         "https://www.tiktok.com/@unknown_creator/video/" + id,
	})
}

type videoSeed struct {
	id, desc, handle, displayName string
	views                         int64
	created                       time.Time
	musicTitle, musicAuthor, url  string
}

func (g *fixtureGenerator) video(s videoSeed) RawVideo {
	return RawVideo{
		"id":         s.id,
		"desc":       s.desc,
		"createTime": s.created.Unix(),
		"author": map[string]any{
			"uniqueId": s.handle,
			"nickname": s.displayName,
		},
		"stats": map[string]any{
			"playCount":    s.views,
			"diggCount":    g.fraction(s.views, 0.10, 0.30),
			"commentCount": g.fraction(s.views, 0.01, 0.05),
			"shareCount":   g.fraction(s.views, 0.05, 0.15),
		},
		"music": map[string]any{
			"title":      s.musicTitle,
			"authorName": s.musicAuthor,
		},
		"video": map[string]any{
			"playAddr": s.url,
		},
	}
}

// between returns a value in [lo, hi].
func (g *fixtureGenerator) between(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Int64N(hi-lo+1)
}

func (g *fixtureGenerator) fraction(n int64, lo, hi float64) int64 {
	return int64(float64(n) * (lo + g.rng.Float64()*(hi-lo)))
}
