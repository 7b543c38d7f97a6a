// Package cache keeps raw API payloads in a two-level cache: an in-process
// map in front of an optional Redis instance that survives restarts.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures a Tiered cache.
type Config struct {
	// RedisURL enables the Redis level, e.g. redis://localhost:6379/0.
	RedisURL string
	// MaxEntries bounds the memory level. Zero means unbounded.
	MaxEntries int
	// Prefix is prepended to every Redis key.
	Prefix string
	Logger *slog.Logger
	Now    func() time.Time
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Tiered is an L1 memory + L2 Redis cache. The zero Redis level is valid:
// when Redis is not configured or unreachable only memory is used.
type Tiered struct {
	mu     sync.Mutex
	l1     map[string]entry
	rdb    *redis.Client
	max    int
	prefix string
	log    *slog.Logger
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a cache. A bad or unreachable Redis URL is logged and the
// cache falls back to memory only.
func New(ctx context.Context, cfg Config) *Tiered {
	c := newTiered(cfg)
	if cfg.RedisURL == "" {
		return c
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		c.log.Warn("invalid redis URL, using memory cache only", "error", err)
		return c
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		c.log.Warn("redis unreachable, using memory cache only", "addr", opts.Addr, "error", err)
		rdb.Close()
		return c
	}
	c.rdb = rdb
	c.log.Info("redis cache connected", "addr", opts.Addr)
	return c
}

// NewWithClient uses an existing Redis client. rdb may be nil.
func NewWithClient(rdb *redis.Client, cfg Config) *Tiered {
	c := newTiered(cfg)
	c.rdb = rdb
	return c
}

func newTiered(cfg Config) *Tiered {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "tokstats:"
	}
	return &Tiered{
		l1:     make(map[string]entry),
		max:    cfg.MaxEntries,
		prefix: cfg.Prefix,
		log:    cfg.Logger.With("component", "cache"),
		now:    cfg.Now,
	}
}

// Get returns the value for key, checking memory first. A Redis hit is
// copied into memory for the remainder of its Redis TTL.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.l1[key]
	if ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		c.hits.Add(1)
		return e.data, true
	}
	if ok {
		delete(c.l1, key)
	}
	c.mu.Unlock()

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
		switch {
		case err == nil:
			if ttl, terr := c.rdb.PTTL(ctx, c.prefix+key).Result(); terr == nil && ttl > 0 {
				c.store(key, data, now.Add(ttl))
			}
			c.hits.Add(1)
			return data, true
		case !errors.Is(err, redis.Nil):
			c.log.Debug("redis get failed", "key", key, "error", err)
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores value in both levels for ttl. Non-positive ttls are ignored.
func (c *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.store(key, value, c.now().Add(ttl))
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
			c.log.Debug("redis set failed", "key", key, "error", err)
		}
	}
}

// Delete removes key from both levels.
func (c *Tiered) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.l1, key)
	c.mu.Unlock()
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil {
			return fmt.Errorf("cache: delete %s: %w", key, err)
		}
	}
	return nil
}

// Stats returns hit and miss counts.
func (c *Tiered) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of memory entries, expired ones included.
func (c *Tiered) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.l1)
}

// Redis reports whether the Redis level is active.
func (c *Tiered) Redis() bool { return c.rdb != nil }

// Close releases the Redis connection.
func (c *Tiered) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Tiered) store(key string, data []byte, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.l1[key]; !exists && c.max > 0 && len(c.l1) >= c.max {
		c.evict()
	}
	c.l1[key] = entry{data: data, expiresAt: expiresAt}
}

// evict drops expired entries, then the entry closest to expiry until there
// is room for one more. Must be called with c.mu held.
func (c *Tiered) evict() {
	now := c.now()
	for k, e := range c.l1 {
		if !now.Before(e.expiresAt) {
			delete(c.l1, k)
		}
	}
	for len(c.l1) >= c.max {
		var (
			oldest string
			at     time.Time
			found  bool
		)
		for k, e := range c.l1 {
			if !found || e.expiresAt.Before(at) {
				oldest, at, found = k, e.expiresAt, true
			}
		}
		delete(c.l1, oldest)
	}
}
