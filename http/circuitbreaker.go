package http

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of one host's circuit.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the recovery timeout passes.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe requests through.
	CircuitHalfOpen
)

// String returns the state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failures that open a circuit.
	FailureThreshold int
	// RecoveryTimeout is how long a circuit stays open.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests int
	// IsTransientError decides which failures count. Nil counts all.
	IsTransientError func(error) bool
}

// DefaultCircuitBreakerConfig returns 5 failures / 30s / 1 probe.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
		IsTransientError:    IsTransientError,
	}
}

type circuit struct {
	state    CircuitState
	failures int
	changed  time.Time
	probes   int
}

// CircuitBreaker tracks consecutive failures per host and fails fast once a
// host looks down. A nil *CircuitBreaker allows everything.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	circuits map[string]*circuit
	now      func() time.Time
}

// NewCircuitBreaker returns a breaker, filling unset fields from the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	return &CircuitBreaker{cfg: cfg, circuits: make(map[string]*circuit), now: time.Now}
}

// Allow returns ErrCircuitOpen when host should not be contacted.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.changed) < cb.cfg.RecoveryTimeout {
			return ErrCircuitOpen
		}
		c.state = CircuitHalfOpen
		c.changed = cb.now()
		c.probes = 1
	case CircuitHalfOpen:
		if c.probes >= cb.cfg.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		c.probes++
	}
	return nil
}

// RecordSuccess closes host's circuit.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	if c.state != CircuitClosed {
		c.changed = cb.now()
	}
	c.state = CircuitClosed
	c.failures = 0
	c.probes = 0
}

// RecordFailure counts err against host when it is transient. Other errors
// release the probe slot taken by Allow.
func (cb *CircuitBreaker) RecordFailure(host string, err error) {
	if cb == nil {
		return
	}
	if cb.cfg.IsTransientError != nil && !cb.cfg.IsTransientError(err) {
		cb.Release(host)
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.failures++
	switch c.state {
	case CircuitClosed:
		if c.failures >= cb.cfg.FailureThreshold {
			c.state = CircuitOpen
			c.changed = cb.now()
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.changed = cb.now()
	}
}

// Release returns a half-open probe slot without recording an outcome. Use it
// when a request that passed Allow was never answered by host.
func (cb *CircuitBreaker) Release(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	if c.state == CircuitHalfOpen && c.probes > 0 {
		c.probes--
	}
}

// State reports host's current state.
func (cb *CircuitBreaker) State(host string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && cb.now().Sub(c.changed) >= cb.cfg.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// Reset forgets host's history.
func (cb *CircuitBreaker) Reset(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	delete(cb.circuits, host)
	cb.mu.Unlock()
}

// must be called with cb.mu held
func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{changed: cb.now()}
		cb.circuits[host] = c
	}
	return c
}

// IsTransientError counts transport failures and 5xx statuses. 4xx
// statuses are the caller's problem and never trip the breaker.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return true
}
