package storage

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"tokstats/tiktok"
)

// Video is the flat persisted form of a tiktok.VideoRecord.
type Video struct {
	VideoID        string    `json:"video_id"`
	CreatorID      string    `json:"creator_id"`
	CreatorName    string    `json:"creator_name"`
	VideoURL       string    `json:"video_url"`
	ViewCount      int64     `json:"view_count"`
	LikeCount      int64     `json:"like_count"`
	CommentCount   int64     `json:"comment_count"`
	ShareCount     int64     `json:"share_count"`
	PostDate       time.Time `json:"post_date"`
	FetchDate      time.Time `json:"fetch_date"`
	Description    string    `json:"description,omitempty"`
	MusicTitle     string    `json:"music_title,omitempty"`
	MusicAuthor    string    `json:"music_author,omitempty"`
	// Hashtags is the space-joined tag list, each tag keeping its '#'.
	Hashtags       string  `json:"hashtags,omitempty"`
	EngagementRate float64 `json:"engagement_rate"`
	LikeRate       float64 `json:"like_rate"`
}

// FromRecord flattens r.
func FromRecord(r tiktok.VideoRecord) Video {
	return Video{
		VideoID:        r.ID,
		CreatorID:      r.Creator.Handle,
		CreatorName:    r.Creator.DisplayName,
		VideoURL:       r.PlaybackURL,
		ViewCount:      r.Stats.ViewCount,
		LikeCount:      r.Stats.LikeCount,
		CommentCount:   r.Stats.CommentCount,
		ShareCount:     r.Stats.ShareCount,
		PostDate:       r.CreatedAt,
		FetchDate:      r.FetchedAt,
		Description:    r.Description,
		MusicTitle:     r.Music.Title,
		MusicAuthor:    r.Music.AuthorName,
		Hashtags:       strings.Join(r.Hashtags, " "),
		EngagementRate: r.EngagementRate,
		LikeRate:       r.LikeRate,
	}
}

// FromRecords flattens every record.
func FromRecords(records []tiktok.VideoRecord) []Video {
	out := make([]Video, len(records))
	for i, r := range records {
		out[i] = FromRecord(r)
	}
	return out
}

// ToRecord rebuilds the canonical record.
func (v Video) ToRecord() tiktok.VideoRecord {
	return tiktok.VideoRecord{
		ID:          v.VideoID,
		Description: v.Description,
		CreatedAt:   v.PostDate,
		FetchedAt:   v.FetchDate,
		Creator:     tiktok.Creator{Handle: v.CreatorID, DisplayName: v.CreatorName},
		Stats: tiktok.Stats{
			ViewCount:    v.ViewCount,
			LikeCount:    v.LikeCount,
			CommentCount: v.CommentCount,
			ShareCount:   v.ShareCount,
		},
		Music:          tiktok.Music{Title: v.MusicTitle, AuthorName: v.MusicAuthor},
		PlaybackURL:    v.VideoURL,
		Hashtags:       strings.Fields(v.Hashtags),
		EngagementRate: v.EngagementRate,
		LikeRate:       v.LikeRate,
	}
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 10

// ListOptions selects saved videos.
type ListOptions struct {
	// SortBy is views, likes, comments, shares, date or fetched. Anything
	// else sorts by views.
	SortBy string
	// Search matches a substring of the creator id or the hashtags,
	// case-insensitively.
	Search string
	Limit  int
	Offset int
}

var sortColumns = map[string]string{
	"views":    "view_count",
	"likes":    "like_count",
	"comments": "comment_count",
	"shares":   "share_count",
	"date":     "post_date",
	"fetched":  "fetch_date",
}

func (o ListOptions) column() string {
	if c, ok := sortColumns[o.SortBy]; ok {
		return c
	}
	return "view_count"
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

func (o ListOptions) offset() int {
	return max(o.Offset, 0)
}

// HashtagCount is one entry of Stats.TopHashtags.
type HashtagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats summarizes the saved videos.
type Stats struct {
	TotalVideos int64          `json:"total_videos"`
	AvgViews    float64        `json:"avg_views"`
	AvgLikes    float64        `json:"avg_likes"`
	AvgComments float64        `json:"avg_comments"`
	AvgShares   float64        `json:"avg_shares"`
	TopHashtags []HashtagCount `json:"top_hashtags"`
}

// TopHashtagLimit bounds Stats.TopHashtags.
const TopHashtagLimit = 10

// topHashtags counts individual tags across space-joined hashtag fields,
// case-insensitively, most frequent first.
func topHashtags(fields []string) []HashtagCount {
	counts := make(map[string]int)
	for _, f := range fields {
		for _, tag := range strings.Fields(f) {
			counts[strings.ToLower(tag)]++
		}
	}
	out := make([]HashtagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, HashtagCount{Tag: tag, Count: n})
	}
	slices.SortFunc(out, func(a, b HashtagCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Tag, b.Tag)
	})
	if len(out) > TopHashtagLimit {
		out = out[:TopHashtagLimit]
	}
	return out
}

// FetchRun records one coordinator fetch.
type FetchRun struct {
	ID        string        `json:"id"`
	Mode      string        `json:"mode"`
	Source    string        `json:"source"`
	Query     string        `json:"query,omitempty"`
	Fetched   int           `json:"fetched"`
	Returned  int           `json:"returned"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RunFromReport builds a FetchRun from a coordinator report. query is a
// human-readable description of the request; fetchErr may be nil.
func RunFromReport(rep *tiktok.Report, query string, fetchErr error) FetchRun {
	run := FetchRun{Query: query}
	if rep != nil {
		run.ID = rep.FetchID
		run.Mode = string(rep.Mode)
		run.Source = rep.Source
		run.Fetched = rep.Fetched
		run.Returned = rep.Returned
		run.Skipped = len(rep.Skipped)
		run.StartedAt = rep.Started
		run.Duration = rep.Elapsed
	}
	if fetchErr != nil {
		run.Error = fetchErr.Error()
	}
	return run
}

func (r *FetchRun) fillDefaults(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
}
