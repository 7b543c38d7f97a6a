package tiktok

import (
	"net/http"
	"sync"
	"time"
)

// Default request budgets.
const (
	RemoteMaxRequests     = 600
	SubstituteMaxRequests = 1000
	DefaultRateWindow     = 60 * time.Second
)

// RateLimitState is a snapshot of a RateLimiter's window.
type RateLimitState struct {
	RequestsInWindow int
	WindowResetAt    time.Time
}

// RateLimiter enforces a fixed-window request budget. It is safe for
// concurrent use; each DataSource owns its own instance.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	state  RateLimitState
}

// NewRateLimiter returns a limiter allowing limit requests per window.
// Non-positive arguments fall back to the remote defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = RemoteMaxRequests
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{limit: limit, window: window, now: time.Now}
}

// WithClock replaces the limiter's time source. Used by tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.mu.Lock()
	rl.now = now
	rl.mu.Unlock()
	return rl
}

// Check counts one request against the current window. When the budget is
// exhausted it returns a KindRateLimitExceeded *APIError with status 429 and
// leaves the counter unchanged.
func (rl *RateLimiter) Check() error {
	if rl == nil {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if !now.Before(rl.state.WindowResetAt) {
		rl.state.RequestsInWindow = 0
		rl.state.WindowResetAt = now.Add(rl.window)
	}

	if rl.state.RequestsInWindow >= rl.limit {
		return &APIError{
			Kind:       KindRateLimitExceeded,
			StatusCode: http.StatusTooManyRequests,
			Op:         "rate_limit",
			Message:    "local request budget exhausted",
			RetryAfter: rl.state.WindowResetAt.Sub(now),
		}
	}

	rl.state.RequestsInWindow++
	return nil
}

// State returns a copy of the current window.
func (rl *RateLimiter) State() RateLimitState {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.state
}

// Limit returns the configured budget and window length.
func (rl *RateLimiter) Limit() (int, time.Duration) {
	return rl.limit, rl.window
}
