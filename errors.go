package tokstats

import (
	"tokstats/config"
	"tokstats/internal/fileutil"
	"tokstats/storage"
	"tokstats/tiktok"
)

// Error handling types exported for library users.
//
// Fetch failures carry a Kind and match the Err* sentinels with errors.Is:
//
//	if errors.Is(err, tokstats.ErrRateLimitExceeded) {
//		fmt.Println("slow down")
//	}
//
// Use errors.As for the details:
//
//	var apiErr *tokstats.APIError
//	if errors.As(err, &apiErr) {
//		fmt.Printf("%s failed with %d: %s\n", apiErr.Op, apiErr.StatusCode, apiErr.Message)
//	}

// Type aliases for convenient error handling.
type (
	// APIError is returned by every data source operation.
	APIError = tiktok.APIError
	// Kind classifies an APIError.
	Kind = tiktok.Kind
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
	// ValidationError describes one invalid configuration setting.
	ValidationError = config.ValidationError
)

// Sentinel errors exported from sub-packages.
var (
	ErrRateLimitExceeded    = tiktok.ErrRateLimitExceeded
	ErrAuthenticationFailed = tiktok.ErrAuthenticationFailed
	ErrAccessForbidden      = tiktok.ErrAccessForbidden
	ErrResourceNotFound     = tiktok.ErrResourceNotFound
	ErrUpstreamServer       = tiktok.ErrUpstreamServer
	ErrMalformedResponse    = tiktok.ErrMalformedResponse
	ErrBadRequest           = tiktok.ErrBadRequest
	ErrUnexpected           = tiktok.ErrUnexpected
	// ErrInvalidQuery wraps QuerySpec validation failures.
	ErrInvalidQuery = tiktok.ErrInvalidQuery

	// Storage errors
	ErrNotFound       = storage.ErrNotFound
	ErrInvalidInput   = storage.ErrInvalidInput
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrClosed         = storage.ErrClosed
	// ErrLockTimeout indicates a timeout acquiring the JSON store's file lock.
	ErrLockTimeout = fileutil.ErrLockTimeout
)

// KindOf returns the Kind of err, KindUnexpected when it carries none.
func KindOf(err error) Kind {
	return tiktok.KindOf(err)
}

// IsFatal reports whether err should stop a byId batch.
func IsFatal(err error) bool {
	return tiktok.IsFatal(err)
}
