package tiktok

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// epochZero is the instant used for missing or unparseable timestamps.
var epochZero = time.Unix(0, 0).UTC()

// timeLayouts are the ISO-8601 shapes accepted for string timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer maps raw upstream objects into VideoRecords. It never fails:
// missing counters become 0 and missing strings become "".
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer stamping FetchedAt with now. A nil now
// uses time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize converts raw using fm. Derived rates are always filled in.
func (n *Normalizer) Normalize(raw RawVideo, fm FieldMap) VideoRecord {
	rec := VideoRecord{
		ID:          lookupString(raw, fm.ID),
		Description: lookupString(raw, fm.Description),
		CreatedAt:   parseTimestamp(lookup(raw, fm.CreatedAt)),
		FetchedAt:   n.now().UTC(),
		Creator: Creator{
			Handle:      lookupString(raw, fm.CreatorHandle),
			DisplayName: lookupString(raw, fm.CreatorName),
		},
		Stats: Stats{
			ViewCount:    lookupCount(raw, fm.Views),
			LikeCount:    lookupCount(raw, fm.Likes),
			CommentCount: lookupCount(raw, fm.Comments),
			ShareCount:   lookupCount(raw, fm.Shares),
		},
		Music: Music{
			Title:      lookupString(raw, fm.MusicTitle),
			AuthorName: lookupString(raw, fm.MusicAuthor),
		},
		PlaybackURL: lookupString(raw, fm.PlaybackURL),
	}
	rec.Hashtags = ExtractHashtags(rec.Description)
	rec.deriveRates()
	return rec
}

// NormalizeAll normalizes every element of raws in order.
func (n *Normalizer) NormalizeAll(raws []RawVideo, fm FieldMap) []VideoRecord {
	out := make([]VideoRecord, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw, fm))
	}
	return out
}

// ExtractHashtags returns the whitespace separated tokens of desc that start
// with '#', de-duplicated in first-seen order. A lone "#" is not a tag.
func ExtractHashtags(desc string) []string {
	var tags []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(desc) {
		if len(tok) < 2 || tok[0] != '#' {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tags = append(tags, tok)
	}
	return tags
}

// lookup walks a dot separated path through nested maps. A key that itself
// contains dots is matched before descending.
func lookup(raw map[string]any, path string) any {
	if path == "" || raw == nil {
		return nil
	}
	if v, ok := raw[path]; ok {
		return v
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil
	}
	child, ok := raw[head].(map[string]any)
	if !ok {
		if rv, isRaw := raw[head].(RawVideo); isRaw {
			child = rv
		} else {
			return nil
		}
	}
	return lookup(child, rest)
}

func lookupString(raw map[string]any, path string) string {
	switch v := lookup(raw, path).(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func lookupCount(raw map[string]any, path string) int64 {
	n := toInt64(lookup(raw, path))
	if n < 0 {
		return 0
	}
	return n
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return toInt64(f)
		}
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt64(f)
		}
	}
	return 0
}

// parseTimestamp accepts Unix seconds (numeric or digit string) or an
// ISO-8601 string. Anything else yields epochZero.
func parseTimestamp(v any) time.Time {
	switch x := v.(type) {
	case nil:
		return epochZero
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return epochZero
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(secs)
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return epochZero
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return epochZero
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(x)
	case int:
		return fromEpoch(float64(x))
	case int64:
		return fromEpoch(float64(x))
	}
	return epochZero
}

func fromEpoch(secs float64) time.Time {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return epochZero
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
