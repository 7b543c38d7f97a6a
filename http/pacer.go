package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Backoff bounds applied after the server throttles a host.
const (
	InitialThrottleBackoff = 1 * time.Second
	MaxThrottleBackoff     = 60 * time.Second
)

// PacerConfig defines outbound request pacing.
type PacerConfig struct {
	// RequestsPerSecond per host. Zero disables pacing.
	RequestsPerSecond float64
	// Burst is the token bucket size. Defaults to 1.
	Burst int
	// HostRates overrides RequestsPerSecond for specific hosts.
	HostRates map[string]float64
}

// Pacer spaces requests per host with a token bucket and holds requests to
// a host back while it is throttling us.
type Pacer struct {
	mu       sync.Mutex
	cfg      PacerConfig
	limiters map[string]*rate.Limiter
	throttle map[string]*throttleState
}

type throttleState struct {
	until       time.Time
	backoff     time.Duration
	consecutive int
}

// NewPacer returns a Pacer for cfg.
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Pacer{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		throttle: make(map[string]*throttleState),
	}
}

// Wait blocks until a request to urlStr may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context, urlStr string) error {
	if p == nil {
		return nil
	}
	host := hostOf(urlStr)

	if d := p.throttleRemaining(host); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if lim := p.limiter(host); lim != nil {
		return lim.Wait(ctx)
	}
	return nil
}

// RecordThrottle notes a 429 from urlStr's host. The next requests wait for
// retryAfter or a doubling backoff, whichever is longer. It returns the
// wait that was applied.
func (p *Pacer) RecordThrottle(urlStr string, retryAfter time.Duration) time.Duration {
	if p == nil {
		return retryAfter
	}
	host := hostOf(urlStr)

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.throttle[host]
	if !ok {
		st = &throttleState{backoff: InitialThrottleBackoff}
		p.throttle[host] = st
	} else {
		st.backoff = min(st.backoff*2, MaxThrottleBackoff)
	}
	st.consecutive++

	wait := max(st.backoff, retryAfter)
	st.until = time.Now().Add(wait)
	return wait
}

// RecordSuccess clears the throttle state for urlStr's host.
func (p *Pacer) RecordSuccess(urlStr string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.throttle, hostOf(urlStr))
	p.mu.Unlock()
}

// Throttled reports whether urlStr's host is currently backed off.
func (p *Pacer) Throttled(urlStr string) bool {
	return p.throttleRemaining(hostOf(urlStr)) > 0
}

func (p *Pacer) throttleRemaining(host string) time.Duration {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.throttle[host]
	if !ok {
		return 0
	}
	return time.Until(st.until)
}

func (p *Pacer) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lim, ok := p.limiters[host]; ok {
		return lim
	}
	rps := p.cfg.RequestsPerSecond
	if r, ok := p.cfg.HostRates[host]; ok {
		rps = r
	}
	if rps <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Limit(rps), p.cfg.Burst)
	p.limiters[host] = lim
	return lim
}

// hostOf returns the host of urlStr without its port, or "unknown".
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
