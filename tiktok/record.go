package tiktok

import "time"

// VideoRecord is the canonical video shape produced by the Normalizer.
// Records are owned by the caller once returned.
type VideoRecord struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	// FetchedAt is set at normalization time. It may precede CreatedAt when
	// clocks disagree.
	FetchedAt   time.Time `json:"fetched_at"`
	Creator     Creator   `json:"creator"`
	Stats       Stats     `json:"stats"`
	Music       Music     `json:"music"`
	PlaybackURL string    `json:"playback_url"`
	// Hashtags is derived from Description, in first-seen order.
	Hashtags []string `json:"hashtags"`

	// EngagementRate is (likes+comments+shares)/views, 0 when views is 0.
	EngagementRate float64 `json:"engagement_rate"`
	// LikeRate is likes/views, 0 when views is 0.
	LikeRate float64 `json:"like_rate"`
}

// Creator identifies the account that posted a video.
type Creator struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

// Stats holds the engagement counters. All values are non-negative.
type Stats struct {
	ViewCount    int64 `json:"view_count"`
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
	ShareCount   int64 `json:"share_count"`
}

// Music describes the soundtrack of a video.
type Music struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

// deriveRates fills EngagementRate and LikeRate from Stats.
func (r *VideoRecord) deriveRates() {
	r.EngagementRate = 0
	r.LikeRate = 0
	if r.Stats.ViewCount <= 0 {
		return
	}
	views := float64(r.Stats.ViewCount)
	r.EngagementRate = float64(r.Stats.LikeCount+r.Stats.CommentCount+r.Stats.ShareCount) / views
	r.LikeRate = float64(r.Stats.LikeCount) / views
}
