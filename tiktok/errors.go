package tiktok

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure reported by a DataSource or the Coordinator.
type Kind int

const (
	// KindUnexpected wraps anything that does not fit another kind.
	KindUnexpected Kind = iota
	// KindRateLimitExceeded means the request budget is exhausted (429).
	KindRateLimitExceeded
	// KindAuthenticationFailed means credentials were rejected (401).
	KindAuthenticationFailed
	// KindAccessForbidden means the token lacks a required scope (403).
	KindAccessForbidden
	// KindResourceNotFound means the entity is absent (404 or empty data).
	KindResourceNotFound
	// KindUpstreamServer means the platform failed with a 5xx status.
	KindUpstreamServer
	// KindMalformedResponse means the body could not be decoded.
	KindMalformedResponse
	// KindBadRequest means the platform rejected the request parameters (400).
	KindBadRequest
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindAccessForbidden:
		return "access_forbidden"
	case KindResourceNotFound:
		return "resource_not_found"
	case KindUpstreamServer:
		return "upstream_server_error"
	case KindMalformedResponse:
		return "malformed_response"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unexpected_error"
	}
}

// Sentinel errors, one per Kind. An *APIError matches the sentinel of its
// kind under errors.Is.
var (
	ErrRateLimitExceeded    = errors.New("tiktok: rate limit exceeded")
	ErrAuthenticationFailed = errors.New("tiktok: authentication failed")
	ErrAccessForbidden      = errors.New("tiktok: access forbidden")
	ErrResourceNotFound     = errors.New("tiktok: resource not found")
	ErrUpstreamServer       = errors.New("tiktok: upstream server error")
	ErrMalformedResponse    = errors.New("tiktok: malformed response")
	ErrBadRequest           = errors.New("tiktok: bad request")
	ErrUnexpected           = errors.New("tiktok: unexpected error")
)

var kindSentinels = map[Kind]error{
	KindRateLimitExceeded:    ErrRateLimitExceeded,
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindAccessForbidden:      ErrAccessForbidden,
	KindResourceNotFound:     ErrResourceNotFound,
	KindUpstreamServer:       ErrUpstreamServer,
	KindMalformedResponse:    ErrMalformedResponse,
	KindBadRequest:           ErrBadRequest,
	KindUnexpected:           ErrUnexpected,
}

// ScopeHint is appended to AccessForbidden messages.
const ScopeHint = "check that the access token was granted the user.info.basic, video.list and video.list.basic scopes"

// APIError describes a failed fetch. Use errors.As to read the details:
//
//	var apiErr *tiktok.APIError
//	if errors.As(err, &apiErr) && apiErr.Kind == tiktok.KindRateLimitExceeded {
//		time.Sleep(apiErr.RetryAfter)
//	}
type APIError struct {
	// Kind is the failure class.
	Kind Kind
	// StatusCode is the HTTP status, or the equivalent one for local failures
	// (429 for the local limiter). Zero when no status applies.
	StatusCode int
	// Code is the platform error code from the response body, if any.
	Code string
	// Message is a human readable description.
	Message string
	// Op is the operation that failed ("trending", "user_info", "video_query", ...).
	Op string
	// RetryAfter is how long to wait before retrying, when known.
	RetryAfter time.Duration
	// Err is the underlying cause.
	Err error
}

// Error returns a string representation of the API error.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *APIError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the Kind carried by err. Errors that are not an *APIError
// are KindUnexpected.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnexpected
}

// IsFatal reports whether err must abort a whole request rather than be
// skipped as a per-item failure.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch KindOf(err) {
	case KindRateLimitExceeded, KindAuthenticationFailed, KindAccessForbidden:
		return true
	}
	return false
}

// IsNotFound reports whether err means "nothing there".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}

// errorForStatus translates a non-200 upstream status into an APIError.
// code and message come from the error body when it could be decoded.
func errorForStatus(op string, status int, code, message string, retryAfter time.Duration) *APIError {
	e := &APIError{Op: op, StatusCode: status, Code: code, RetryAfter: retryAfter}
	switch {
	case status == http.StatusBadRequest:
		e.Kind = KindBadRequest
		e.Message = "invalid request parameters"
	case status == http.StatusUnauthorized:
		e.Kind = KindAuthenticationFailed
		e.Message = "authentication failed: check the API credentials"
	case status == http.StatusForbidden:
		e.Kind = KindAccessForbidden
		e.Message = "access forbidden: " + ScopeHint
	case status == http.StatusNotFound:
		e.Kind = KindResourceNotFound
		e.Message = "resource not found"
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimitExceeded
		e.Message = "rate limit exceeded: wait before making more requests"
	case status >= 500:
		e.Kind = KindUpstreamServer
		e.Message = "upstream server error"
	default:
		e.Kind = KindUnexpected
		e.Message = "unexpected status"
	}
	if message != "" {
		e.Message += " (" + message + ")"
	}
	return e
}
