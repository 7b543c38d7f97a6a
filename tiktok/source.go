package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
)

// Query carries the per-call parameters a DataSource may push upstream.
// Sources treat them as hints; the Coordinator applies the authoritative
// filter and sort afterwards.
type Query struct {
	Count      int
	MinViews   int64
	MinLikes   int64
	MaxAgeDays int
	SortBy     SortKey
}

// DataSource fetches raw video collections for the four query modes.
// Every method consults the source's own RateLimiter before doing work.
type DataSource interface {
	// Name identifies the source in logs and metrics ("remote", "substitute").
	Name() string
	// FieldMap describes the raw layout this source returns.
	FieldMap() FieldMap
	// FetchTrending returns popular videos.
	FetchTrending(ctx context.Context, q Query) ([]RawVideo, error)
	// FetchByHashtag returns videos tagged with tag. An empty tag behaves
	// exactly like FetchTrending.
	FetchByHashtag(ctx context.Context, tag string, q Query) ([]RawVideo, error)
	// FetchByUser returns videos posted by handle.
	FetchByUser(ctx context.Context, handle string, q Query) ([]RawVideo, error)
	// FetchByID returns a single video. A nil RawVideo with a nil error, or
	// an error of KindResourceNotFound, means the id does not exist.
	FetchByID(ctx context.Context, id string) (RawVideo, error)
	// Close releases resources held by the source.
	Close() error
}

// Mode is a query mode understood by the Coordinator.
type Mode string

// Supported query modes.
const (
	ModeTrending Mode = "trending"
	ModeHashtag  Mode = "hashtag"
	ModeUser     Mode = "user"
	ModeByID     Mode = "byId"
)

// ParseMode accepts the canonical names plus the short aliases used on the
// command line.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "trending", "trend":
		return ModeTrending, true
	case "hashtag", "tag":
		return ModeHashtag, true
	case "user":
		return ModeUser, true
	case "byId", "byid", "id", "video":
		return ModeByID, true
	}
	return "", false
}

// decodeRawVideos decodes a JSON array of video objects keeping numbers as
// json.Number so large ids survive.
func decodeRawVideos(data []byte) ([]RawVideo, error) {
	var out []RawVideo
	if err := unmarshalUseNumber(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalUseNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
