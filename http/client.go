// Package http provides the outbound HTTP client used by the TikTok data
// source: per-host pacing, a circuit breaker and context-bound requests.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client wraps an *http.Client with pacing and a circuit breaker. Unlike
// net/http it returns the full Response for every status so callers can
// apply their own error mapping. It never retries.
type Client struct {
	base    *http.Client
	config  *Config
	pacer   *Pacer
	breaker *CircuitBreaker
}

// Config holds HTTP client configuration.
type Config struct {
	// Timeout bounds a single request including reading the body.
	Timeout time.Duration
	// UserAgent is sent when the caller sets none.
	UserAgent string
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64

	Pacer          PacerConfig
	CircuitBreaker CircuitBreakerConfig
	Transport      TransportConfig
}

// TransportConfig configures connection pooling.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	ForceAttemptHTTP2   bool
}

// DefaultConfig returns a 30s timeout, no pacing and the default breaker.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		UserAgent:      "tokstats/1.0",
		MaxBodyBytes:   10 << 20,
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport: TransportConfig{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// New creates a client. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
	}

	return &Client{
		base:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		config:  cfg,
		pacer:   NewPacer(cfg.Pacer),
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RetryAfter parses the Retry-After header as seconds or an HTTP date.
// It returns 0 when the header is absent or invalid.
func (r *Response) RetryAfter() time.Duration {
	v := r.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, headers)
}

// PostJSON encodes payload as JSON and POSTs it.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		h[k] = v
	}
	h["Content-Type"] = "application/json"
	return c.Do(ctx, http.MethodPost, url, body, h)
}

// Do sends one request. Transport failures are wrapped in ErrRequestFailed;
// an open circuit returns ErrCircuitOpen without touching the network.
func (c *Client) Do(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) (*Response, error) {
	host := hostOf(urlStr)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if err := c.pacer.Wait(ctx, urlStr); err != nil {
		return nil, err
	}
	// Every request past Allow records an outcome or releases its slot.
	if err := c.breaker.Allow(host); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRequestFailed, err)
		c.breaker.RecordFailure(host, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		err = fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
		c.breaker.RecordFailure(host, err)
		return nil, err
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.pacer.RecordThrottle(urlStr, out.RetryAfter())
		c.breaker.RecordSuccess(host)
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure(host, &StatusError{StatusCode: resp.StatusCode})
	default:
		c.pacer.RecordSuccess(urlStr)
		c.breaker.RecordSuccess(host)
	}
	return out, nil
}

// CircuitState reports the breaker state for urlStr's host.
func (c *Client) CircuitState(urlStr string) CircuitState {
	return c.breaker.State(hostOf(urlStr))
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}
