package tiktok

import (
	"slices"
	"strings"
	"time"
)

// SortKey names the field results are ordered by.
type SortKey string

// Supported sort keys. Every key sorts descending.
const (
	SortViews    SortKey = "views"
	SortLikes    SortKey = "likes"
	SortComments SortKey = "comments"
	SortShares   SortKey = "shares"
	SortDate     SortKey = "date"
)

// ParseSortKey normalizes s. Unknown keys are returned as-is and leave the
// order untouched when applied.
func ParseSortKey(s string) SortKey {
	return SortKey(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether k is one of the supported keys.
func (k SortKey) Valid() bool {
	switch k {
	case SortViews, SortLikes, SortComments, SortShares, SortDate:
		return true
	}
	return false
}

// Options controls filtering, ordering and truncation.
type Options struct {
	MinViews int64
	MinLikes int64
	// MaxAgeDays drops records created more than this many days ago.
	// Zero disables the age filter.
	MaxAgeDays int
	SortBy     SortKey
	// Count caps the result length. Zero or negative keeps everything.
	Count int
}

// FilterSort applies Options to record sequences.
type FilterSort struct {
	now func() time.Time
}

// NewFilterSort returns a FilterSort measuring ages against now. A nil now
// uses time.Now.
func NewFilterSort(now func() time.Time) *FilterSort {
	if now == nil {
		now = time.Now
	}
	return &FilterSort{now: now}
}

// Apply filters records conjunctively, stable-sorts the survivors by
// opts.SortBy and truncates to opts.Count. The input slice is not modified.
func (f *FilterSort) Apply(records []VideoRecord, opts Options) []VideoRecord {
	idx := f.Select(records, opts)
	out := make([]VideoRecord, len(idx))
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}

// Select is Apply returning positions into records instead of copies.
func (f *FilterSort) Select(records []VideoRecord, opts Options) []int {
	var cutoff time.Time
	if opts.MaxAgeDays > 0 {
		cutoff = f.now().AddDate(0, 0, -opts.MaxAgeDays)
	}

	idx := make([]int, 0, len(records))
	for i, r := range records {
		if r.Stats.ViewCount < opts.MinViews || r.Stats.LikeCount < opts.MinLikes {
			continue
		}
		if !cutoff.IsZero() && r.CreatedAt.Before(cutoff) {
			continue
		}
		idx = append(idx, i)
	}

	if cmp := comparator(opts.SortBy); cmp != nil {
		slices.SortStableFunc(idx, func(a, b int) int { return cmp(records[a], records[b]) })
	}

	if opts.Count > 0 && len(idx) > opts.Count {
		idx = idx[:opts.Count]
	}
	return idx
}

// comparator returns a descending comparison for key, or nil for keys that
// do not re-sort.
func comparator(key SortKey) func(a, b VideoRecord) int {
	var field func(VideoRecord) int64
	switch key {
	case SortViews:
		field = func(r VideoRecord) int64 { return r.Stats.ViewCount }
	case SortLikes:
		field = func(r VideoRecord) int64 { return r.Stats.LikeCount }
	case SortComments:
		field = func(r VideoRecord) int64 { return r.Stats.CommentCount }
	case SortShares:
		field = func(r VideoRecord) int64 { return r.Stats.ShareCount }
	case SortDate:
		return func(a, b VideoRecord) int { return b.CreatedAt.Compare(a.CreatedAt) }
	default:
		return nil
	}
	return func(a, b VideoRecord) int {
		x, y := field(a), field(b)
		switch {
		case x > y:
			return -1
		case x < y:
			return 1
		}
		return 0
	}
}
