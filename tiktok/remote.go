package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	thttp "tokstats/http"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://open.tiktokapis.com/v2/"

// Doer sends one HTTP request. *thttp.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*thttp.Response, error)
}

// Cache stores raw response payloads. internal/cache provides the
// implementation; a nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// RemoteConfig configures a RemoteSource.
type RemoteConfig struct {
	BaseURL     string
	AccessToken string
	MaxRequests int
	Window      time.Duration
	// HTTP defaults to thttp.New(nil).
	HTTP Doer
	// Cache holds single-video lookups for CacheTTL.
	Cache    Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// RemoteSource queries the platform's HTTP API with a bearer token.
type RemoteSource struct {
	base    string
	token   string
	http    Doer
	limiter *RateLimiter
	cache   Cache
	ttl     time.Duration
	log     *slog.Logger
	owned   *thttp.Client
}

// NewRemoteSource returns a RemoteSource for cfg.
func NewRemoteSource(cfg RemoteConfig) *RemoteSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = RemoteMaxRequests
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &RemoteSource{
		base:    cfg.BaseURL,
		token:   cfg.AccessToken,
		http:    cfg.HTTP,
		limiter: NewRateLimiter(cfg.MaxRequests, cfg.Window),
		cache:   cfg.Cache,
		ttl:     cfg.CacheTTL,
		log:     cfg.Logger.With("source", "remote"),
	}
	if cfg.Now != nil {
		s.limiter.WithClock(cfg.Now)
	}
	if s.http == nil {
		s.owned = thttp.New(nil)
		s.http = s.owned
	}
	return s
}

// Name implements DataSource.
func (s *RemoteSource) Name() string { return "remote" }

// FieldMap implements DataSource.
func (s *RemoteSource) FieldMap() FieldMap { return RemoteFields }

// Limiter exposes the source's rate limiter.
func (s *RemoteSource) Limiter() *RateLimiter { return s.limiter }

// Close implements DataSource.
func (s *RemoteSource) Close() error {
	if s.owned != nil {
		return s.owned.Close()
	}
	return nil
}

type listFilters struct {
	ViewCount *gte `json:"view_count,omitempty"`
	LikeCount *gte `json:"like_count,omitempty"`
}

type gte struct {
	Gte int64 `json:"gte"`
}

// FetchTrending implements DataSource.
func (s *RemoteSource) FetchTrending(ctx context.Context, q Query) ([]RawVideo, error) {
	body := map[string]any{
		"max_count": max(q.Count, 1),
		"filters": listFilters{
			ViewCount: &gte{Gte: q.MinViews},
			LikeCount: &gte{Gte: q.MinLikes},
		},
	}
	if q.SortBy != "" {
		body["sort_type"] = string(q.SortBy)
	}
	data, err := s.call(ctx, "trending", http.MethodPost, s.endpoint("video/list/", nil), body)
	if err != nil {
		return nil, err
	}
	return videosFrom("trending", data)
}

// FetchByHashtag implements DataSource. It asks for twice the requested
// count so local filtering still has candidates.
func (s *RemoteSource) FetchByHashtag(ctx context.Context, tag string, q Query) ([]RawVideo, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
	if tag == "" {
		return s.FetchTrending(ctx, q)
	}
	params := url.Values{
		"query":     {"#" + tag},
		"max_count": {strconv.Itoa(max(q.Count, 1) * 2)},
	}
	data, err := s.call(ctx, "hashtag_search", http.MethodGet, s.endpoint("video/search/", params), nil)
	if err != nil {
		return nil, err
	}
	return videosFrom("hashtag_search", data)
}

// FetchByUser implements DataSource. It resolves the handle to a user id
// first, so it spends two requests of budget.
func (s *RemoteSource) FetchByUser(ctx context.Context, handle string, q Query) ([]RawVideo, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	info, err := s.call(ctx, "user_info", http.MethodGet, s.endpoint("user/info/", url.Values{
		"username": {handle},
		"fields":   {"user_id,username,display_name"},
	}), nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		User map[string]any `json:"user"`
	}
	if err := unmarshalUseNumber(info, &envelope); err != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Op: "user_info", Message: "decode user", Err: err}
	}
	userID := lookupString(envelope.User, "user_id")
	if userID == "" {
		return nil, &APIError{Kind: KindResourceNotFound, Op: "user_info", Message: "user not found: " + handle}
	}

	data, err := s.call(ctx, "user_videos", http.MethodGet, s.endpoint("video/list/", url.Values{
		"user_id":   {userID},
		"max_count": {strconv.Itoa(max(q.Count, 1))},
	}), nil)
	if err != nil {
		return nil, err
	}
	return videosFrom("user_videos", data)
}

// FetchByID implements DataSource. An empty result is reported as
// KindResourceNotFound because the API distinguishes it from a bad request.
func (s *RemoteSource) FetchByID(ctx context.Context, id string) (RawVideo, error) {
	key := "tiktok:video:" + id
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			var v RawVideo
			if err := unmarshalUseNumber(cached, &v); err == nil && len(v) > 0 {
				return v, nil
			}
		}
	}

	body := map[string]any{"filters": map[string]any{"video_ids": []string{id}}}
	data, err := s.call(ctx, "video_query", http.MethodPost, s.endpoint("video/query/", nil), body)
	if err != nil {
		return nil, err
	}

	video, err := singleVideo(data)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, &APIError{Kind: KindResourceNotFound, Op: "video_query", Message: "no data returned for " + id}
	}

	if s.cache != nil && s.ttl > 0 {
		if raw, err := json.Marshal(video); err == nil {
			s.cache.Set(ctx, key, raw, s.ttl)
		}
	}
	return video, nil
}

func (s *RemoteSource) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("fields") == "" {
		params.Set("fields", remoteFieldList)
	}
	return s.base + path + "?" + params.Encode()
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		LogID   string `json:"log_id"`
	} `json:"error"`
}

// call checks the budget, sends the request and returns the "data" member
// of a successful envelope. Every failure comes back as an *APIError.
func (s *RemoteSource) call(ctx context.Context, op, method, urlStr string, payload any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Op = op
		}
		return nil, err
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, &APIError{Kind: KindUnexpected, Op: op, Message: "encode request", Err: err}
		}
	}
	headers := map[string]string{"Authorization": "Bearer " + s.token}
	if body != nil {
		headers["Content-Type"] = "application/json"
	}

	start := time.Now()
	resp, err := s.http.Do(ctx, method, urlStr, body, headers)
	if err != nil {
		s.log.Debug("request failed", "op", op, "error", err)
		return nil, &APIError{Kind: KindUnexpected, Op: op, Message: "transport failure", Err: err}
	}
	s.log.Debug("request complete", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	var env apiEnvelope
	decodeErr := json.Unmarshal(resp.Body, &env)

	if resp.StatusCode != http.StatusOK {
		return nil, errorForStatus(op, resp.StatusCode, env.Error.Code, env.Error.Message, resp.RetryAfter())
	}
	if decodeErr != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Op: op, StatusCode: resp.StatusCode, Message: "invalid JSON body", Err: decodeErr}
	}
	if code := env.Error.Code; code != "" && code != "ok" {
		return nil, &APIError{Kind: KindUnexpected, Op: op, StatusCode: resp.StatusCode, Code: code, Message: env.Error.Message}
	}
	return env.Data, nil
}

// videosFrom extracts data.videos. A missing or null list is an empty result.
func videosFrom(op string, data json.RawMessage) ([]RawVideo, error) {
	if isEmptyJSON(data) {
		return nil, nil
	}
	var list struct {
		Videos []RawVideo `json:"videos"`
	}
	if err := unmarshalUseNumber(data, &list); err != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Op: op, Message: "decode videos", Err: err}
	}
	return list.Videos, nil
}

// singleVideo accepts either {"videos":[...]} or the video object itself.
func singleVideo(data json.RawMessage) (RawVideo, error) {
	if isEmptyJSON(data) {
		return nil, nil
	}
	var obj RawVideo
	if err := unmarshalUseNumber(data, &obj); err != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Op: "video_query", Message: "decode video", Err: err}
	}
	if list, ok := obj["videos"]; ok {
		items, ok := list.([]any)
		if !ok {
			return nil, &APIError{Kind: KindMalformedResponse, Op: "video_query", Message: fmt.Sprintf("videos has type %T", list)}
		}
		if len(items) == 0 {
			return nil, nil
		}
		first, ok := items[0].(map[string]any)
		if !ok {
			return nil, &APIError{Kind: KindMalformedResponse, Op: "video_query", Message: "video entry is not an object"}
		}
		return RawVideo(first), nil
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return obj, nil
}

func isEmptyJSON(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}
