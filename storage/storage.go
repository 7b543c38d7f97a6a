// Package storage persists fetched videos and fetch history.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates a data file could not be decoded.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("storage: store is closed")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract it:
//
//	var se *storage.StorageError
//	if errors.As(err, &se) {
//		fmt.Printf("failed to %s %s %s: %v\n", se.Op, se.Entity, se.ID, se.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("upsert", "list", "stats", "purge", ...).
	Op string
	// Entity is the entity type ("video", "fetch_run", "store").
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Store persists videos and fetch runs. Implementations must be safe for
// concurrent use.
type Store interface {
	// UpsertVideos inserts new videos and refreshes the counts, rates and
	// fetch date of known ones. It returns the number of videos written.
	UpsertVideos(ctx context.Context, videos []Video) (int, error)
	// ListVideos returns saved videos ordered by opts.SortBy, descending.
	ListVideos(ctx context.Context, opts ListOptions) ([]Video, error)
	// Statistics summarizes everything saved.
	Statistics(ctx context.Context) (Stats, error)
	// RecordFetchRun appends one fetch to the history.
	RecordFetchRun(ctx context.Context, run FetchRun) error
	// PurgeOlderThan deletes videos fetched before cutoff and returns how
	// many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// Close releases any resources held by the store.
	Close() error
}

func validateVideos(videos []Video) error {
	for i, v := range videos {
		if v.VideoID == "" {
			return &StorageError{Op: "upsert", Entity: "video", ID: fmt.Sprintf("#%d", i), Err: fmt.Errorf("%w: empty video_id", ErrInvalidInput)}
		}
	}
	return nil
}
