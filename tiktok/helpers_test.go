package tiktok

import (
	"sync"
	"time"
)

var testEpoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func rec(id string, views, likes int64, created time.Time) VideoRecord {
	return VideoRecord{
		ID:        id,
		CreatedAt: created,
		Stats:     Stats{ViewCount: views, LikeCount: likes},
	}
}

func ids(records []VideoRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
