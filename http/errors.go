package http

import (
	"errors"
	"fmt"
)

// Sentinel errors for HTTP operations.
var (
	// ErrRequestFailed wraps transport failures (DNS, connect, TLS, reset).
	ErrRequestFailed = errors.New("http request failed")
	// ErrCircuitOpen is returned while a host's circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// StatusError describes a response the caller chose to treat as a failure.
type StatusError struct {
	StatusCode int
	Body       []byte
}

// Error returns a string representation of the status error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}
