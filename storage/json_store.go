package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"tokstats/internal/fileutil"
)

const (
	schemaVersion = "1.0"
	lockTimeout   = 5 * time.Second
	maxFetchRuns  = 1000
)

// JSONStore implements Store using a single JSON file guarded by an
// advisory lock, so only one process uses it at a time.
type JSONStore struct {
	path   string
	lock   *fileutil.FileLock
	data   *storeData
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// storeData is the top-level JSON structure.
type storeData struct {
	Version   string            `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Videos    map[string]*Video `json:"videos"`
	FetchRuns []FetchRun        `json:"fetch_runs"`
}

// NewJSONStore opens the store file at path, creating it when missing.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{
		path: path,
		lock: fileutil.NewFileLock(path),
		now:  time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}
	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}
	return s, nil
}

// load reads the JSON file into memory. A missing file is created empty.
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.data = newStoreData()
			// Save immediately to catch permission errors early.
			return s.save()
		}
		return &StorageError{Op: "read", Entity: "store", Err: err}
	}

	s.data = &storeData{}
	if err := json.Unmarshal(data, s.data); err != nil {
		return &StorageError{Op: "read", Entity: "store", ID: s.path, Err: ErrStorageCorrupt}
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]*Video)
	}
	return nil
}

// save persists the data to disk atomically. Must be called with s.mu held.
func (s *JSONStore) save() error {
	s.data.UpdatedAt = s.now().UTC()

	w, err := fileutil.NewAtomicWriter(s.path)
	if err != nil {
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		w.Abort()
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}
	if err := w.Commit(); err != nil {
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}
	return nil
}

func newStoreData() *storeData {
	return &storeData{
		Version: schemaVersion,
		Videos:  make(map[string]*Video),
	}
}

// UpsertVideos implements Store.
func (s *JSONStore) UpsertVideos(_ context.Context, videos []Video) (int, error) {
	if err := validateVideos(videos); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, &StorageError{Op: "upsert", Entity: "video", Err: ErrClosed}
	}
	if len(videos) == 0 {
		return 0, nil
	}

	for _, v := range videos {
		existing, ok := s.data.Videos[v.VideoID]
		if !ok {
			s.data.Videos[v.VideoID] = &v
			continue
		}
		existing.ViewCount = v.ViewCount
		existing.LikeCount = v.LikeCount
		existing.CommentCount = v.CommentCount
		existing.ShareCount = v.ShareCount
		existing.EngagementRate = v.EngagementRate
		existing.LikeRate = v.LikeRate
		existing.FetchDate = v.FetchDate
	}
	if err := s.save(); err != nil {
		return 0, err
	}
	return len(videos), nil
}

// GetVideo returns one saved video.
func (s *JSONStore) GetVideo(_ context.Context, id string) (*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &StorageError{Op: "read", Entity: "video", ID: id, Err: ErrClosed}
	}

	v, ok := s.data.Videos[id]
	if !ok {
		return nil, &StorageError{Op: "read", Entity: "video", ID: id, Err: ErrNotFound}
	}
	out := *v
	return &out, nil
}

// ListVideos implements Store.
func (s *JSONStore) ListVideos(_ context.Context, opts ListOptions) ([]Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &StorageError{Op: "list", Entity: "video", Err: ErrClosed}
	}

	needle := strings.ToLower(opts.Search)
	matched := make([]Video, 0, len(s.data.Videos))
	for _, v := range s.data.Videos {
		if needle != "" &&
			!strings.Contains(strings.ToLower(v.CreatorID), needle) &&
			!strings.Contains(strings.ToLower(v.Hashtags), needle) {
			continue
		}
		matched = append(matched, *v)
	}

	key := sortValue(opts.column())
	slices.SortFunc(matched, func(a, b Video) int {
		if c := cmp.Compare(key(b), key(a)); c != 0 {
			return c
		}
		return strings.Compare(a.VideoID, b.VideoID)
	})

	start := min(opts.offset(), len(matched))
	end := min(start+opts.limit(), len(matched))
	return matched[start:end], nil
}

// sortValue returns an int64 accessor for a sort column.
func sortValue(column string) func(Video) int64 {
	switch column {
	case "like_count":
		return func(v Video) int64 { return v.LikeCount }
	case "comment_count":
		return func(v Video) int64 { return v.CommentCount }
	case "share_count":
		return func(v Video) int64 { return v.ShareCount }
	case "post_date":
		return func(v Video) int64 { return v.PostDate.Unix() }
	case "fetch_date":
		return func(v Video) int64 { return v.FetchDate.Unix() }
	default:
		return func(v Video) int64 { return v.ViewCount }
	}
}

// Statistics implements Store.
func (s *JSONStore) Statistics(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: ErrClosed}
	}

	var st Stats
	var views, likes, comments, shares int64
	fields := make([]string, 0, len(s.data.Videos))
	for _, v := range s.data.Videos {
		st.TotalVideos++
		views += v.ViewCount
		likes += v.LikeCount
		comments += v.CommentCount
		shares += v.ShareCount
		if v.Hashtags != "" {
			fields = append(fields, v.Hashtags)
		}
	}
	if st.TotalVideos > 0 {
		n := float64(st.TotalVideos)
		st.AvgViews = float64(views) / n
		st.AvgLikes = float64(likes) / n
		st.AvgComments = float64(comments) / n
		st.AvgShares = float64(shares) / n
	}
	st.TopHashtags = topHashtags(fields)
	return st, nil
}

// RecordFetchRun implements Store. Only the newest runs are kept.
func (s *JSONStore) RecordFetchRun(_ context.Context, run FetchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StorageError{Op: "record", Entity: "fetch_run", Err: ErrClosed}
	}

	run.fillDefaults(s.now())
	s.data.FetchRuns = append(s.data.FetchRuns, run)
	if n := len(s.data.FetchRuns); n > maxFetchRuns {
		s.data.FetchRuns = slices.Clone(s.data.FetchRuns[n-maxFetchRuns:])
	}
	return s.save()
}

// FetchRuns returns the recorded runs, newest first.
func (s *JSONStore) FetchRuns(_ context.Context, limit int) ([]FetchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &StorageError{Op: "list", Entity: "fetch_run", Err: ErrClosed}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	runs := slices.Clone(s.data.FetchRuns)
	slices.Reverse(runs)
	return runs[:min(limit, len(runs))], nil
}

// PurgeOlderThan implements Store.
func (s *JSONStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, &StorageError{Op: "purge", Entity: "video", Err: ErrClosed}
	}

	var n int64
	for id, v := range s.data.Videos {
		if v.FetchDate.Before(cutoff) {
			delete(s.data.Videos, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.save(); err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the file lock.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}
