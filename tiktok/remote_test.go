package tiktok

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteVideoJSON = `{
	"id": 7234567890123456789,
	"video_description": "hello #world",
	"create_time": 1767225600,
	"author": {"username": "alice", "display_name": "Alice"},
	"view_count": 1000, "like_count": 100, "comment_count": 10, "share_count": 5,
	"music_info": {"title": "Song", "author": "Band"},
	"embed_link": "https://www.tiktok.com/embed/7234567890123456789"
}`

func newRemoteServer(t *testing.T, handler http.HandlerFunc) (*RemoteSource, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src := NewRemoteSource(RemoteConfig{BaseURL: srv.URL + "/v2", AccessToken: "tok"})
	t.Cleanup(func() { src.Close() })
	return src, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestRemoteTrending(t *testing.T) {
	src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/video/list/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("fields"), "view_count")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(5), body["max_count"])
		assert.Equal(t, "likes", body["sort_type"])
		filters := body["filters"].(map[string]any)
		assert.Equal(t, float64(1000), filters["view_count"].(map[string]any)["gte"])

		writeJSON(w, http.StatusOK, `{"data":{"videos":[`+remoteVideoJSON+`]},"error":{"code":"ok"}}`)
	})

	raws, err := src.FetchTrending(context.Background(), Query{Count: 5, MinViews: 1000, SortBy: SortLikes})
	require.NoError(t, err)
	require.Len(t, raws, 1)

	got := NewNormalizer(nil).Normalize(raws[0], src.FieldMap())
	assert.Equal(t, "7234567890123456789", got.ID)
	assert.Equal(t, "alice", got.Creator.Handle)
	assert.Equal(t, int64(1000), got.Stats.ViewCount)
}

func TestRemoteHashtag(t *testing.T) {
	src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/video/search/", r.URL.Path)
		assert.Equal(t, "#dance", r.URL.Query().Get("query"))
		assert.Equal(t, "10", r.URL.Query().Get("max_count"))
		writeJSON(w, http.StatusOK, `{"data":{"videos":[]}}`)
	})

	raws, err := src.FetchByHashtag(context.Background(), "#dance", Query{Count: 5})
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestRemoteEmptyHashtagFallsBackToTrending(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		writeJSON(w, http.StatusOK, `{"data":{"videos":[`+remoteVideoJSON+`]}}`)
	})

	q := Query{Count: 3}
	viaTag, err := src.FetchByHashtag(context.Background(), "", q)
	require.NoError(t, err)
	trending, err := src.FetchTrending(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, trending, viaTag)
	assert.Equal(t, []string{"/v2/video/list/", "/v2/video/list/"}, paths)
}

func TestRemoteUser(t *testing.T) {
	src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/user/info/":
			assert.Equal(t, "alice", r.URL.Query().Get("username"))
			assert.Equal(t, "user_id,username,display_name", r.URL.Query().Get("fields"))
			writeJSON(w, http.StatusOK, `{"data":{"user":{"user_id":"u-1","username":"alice"}}}`)
		case "/v2/video/list/":
			assert.Equal(t, "u-1", r.URL.Query().Get("user_id"))
			assert.Equal(t, "7", r.URL.Query().Get("max_count"))
			writeJSON(w, http.StatusOK, `{"data":{"videos":[`+remoteVideoJSON+`,`+remoteVideoJSON+`]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	raws, err := src.FetchByUser(context.Background(), "@alice", Query{Count: 7})
	require.NoError(t, err)
	assert.Len(t, raws, 2)
	assert.Equal(t, 2, src.Limiter().State().RequestsInWindow)
}

func TestRemoteUserUnknown(t *testing.T) {
	src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"user":{}}}`)
	})
	_, err := src.FetchByUser(context.Background(), "ghost", Query{Count: 1})
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestRemoteByID(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		wantID  string
	}{
		{"list shape", `{"data":{"videos":[` + remoteVideoJSON + `]}}`, nil, "7234567890123456789"},
		{"object shape", `{"data":` + remoteVideoJSON + `}`, nil, "7234567890123456789"},
		{"empty list", `{"data":{"videos":[]}}`, ErrResourceNotFound, ""},
		{"null data", `{"data":null}`, ErrResourceNotFound, ""},
		{"empty data", `{"data":{}}`, ErrResourceNotFound, ""},
		{"videos wrong type", `{"data":{"videos":"nope"}}`, ErrMalformedResponse, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/video/query/", r.URL.Path)
				var body struct {
					Filters struct {
						VideoIDs []string `json:"video_ids"`
					} `json:"filters"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, []string{"7234567890123456789"}, body.Filters.VideoIDs)
				writeJSON(w, http.StatusOK, tt.body)
			})

			raw, err := src.FetchByID(context.Background(), "7234567890123456789")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, raw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, lookupString(raw, "id"))
		})
	}
}

func TestRemoteStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"error":{"code":"invalid_params","message":"bad field"}}`, ErrBadRequest},
		{http.StatusUnauthorized, `{"error":{"code":"access_token_invalid"}}`, ErrAuthenticationFailed},
		{http.StatusForbidden, `{"error":{"code":"scope_not_authorized"}}`, ErrAccessForbidden},
		{http.StatusNotFound, `not json`, ErrResourceNotFound},
		{http.StatusTooManyRequests, `{}`, ErrRateLimitExceeded},
		{http.StatusServiceUnavailable, ``, ErrUpstreamServer},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "12")
				}
				writeJSON(w, tt.status, tt.body)
			})
			_, err := src.FetchTrending(context.Background(), Query{Count: 1})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "trending", apiErr.Op)
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, 12*time.Second, apiErr.RetryAfter)
			}
		})
	}
}

func TestRemoteMalformedBody(t *testing.T) {
	src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data": [`)
	})
	_, err := src.FetchTrending(context.Background(), Query{Count: 1})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestRemoteEnvelopeErrorCode(t *testing.T) {
	src, _ := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{},"error":{"code":"internal_error","message":"try later"}}`)
	})
	_, err := src.FetchTrending(context.Background(), Query{Count: 1})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindUnexpected, apiErr.Kind)
	assert.Equal(t, "internal_error", apiErr.Code)
}

func TestRemoteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	src := NewRemoteSource(RemoteConfig{BaseURL: base})
	_, err := src.FetchTrending(context.Background(), Query{Count: 1})
	require.Error(t, err)
	assert.Equal(t, KindUnexpected, KindOf(err))
	assert.False(t, IsFatal(err))
}

func TestRemoteLocalRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, `{"data":{"videos":[]}}`)
	}))
	defer srv.Close()

	src := NewRemoteSource(RemoteConfig{BaseURL: srv.URL, MaxRequests: 1, Window: time.Hour})
	_, err := src.FetchTrending(context.Background(), Query{Count: 1})
	require.NoError(t, err)

	_, err = src.FetchTrending(context.Background(), Query{Count: 1})
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 1, calls, "rejected request must not reach the server")
}

func TestRemoteCancelledContextSpendsNoBudget(t *testing.T) {
	src := NewRemoteSource(RemoteConfig{BaseURL: "http://127.0.0.1:1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.FetchByID(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.Limiter().State().RequestsInWindow)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func TestRemoteByIDUsesCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, `{"data":{"videos":[`+remoteVideoJSON+`]}}`)
	}))
	defer srv.Close()

	cache := &mapCache{data: map[string][]byte{}}
	src := NewRemoteSource(RemoteConfig{BaseURL: srv.URL, Cache: cache, CacheTTL: time.Minute})

	first, err := src.FetchByID(context.Background(), "7234567890123456789")
	require.NoError(t, err)
	second, err := src.FetchByID(context.Background(), "7234567890123456789")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, lookupString(first, "id"), lookupString(second, "id"))
	assert.Equal(t, "7234567890123456789", lookupString(second, "id"))
}
