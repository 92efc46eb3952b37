// Package timerange resolves dashboard time-range selectors into
// concrete half-open [start, end) intervals.
package timerange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRange is returned for malformed or inverted custom ranges.
var ErrInvalidRange = errors.New("invalid time range")

// Key is a normalized time-range selector.
type Key string

const (
	Today     Key = "today"
	Yesterday Key = "yesterday"
	ThisWeek  Key = "this_week"
	LastWeek  Key = "last_week"
	ThisMonth Key = "this_month"
	LastMonth Key = "last_month"
	ThisYear  Key = "this_year"
	LastYear  Key = "last_year"
	AllTime   Key = "all_time"
)

// Keys lists every recognized selector in display order.
var Keys = []Key{
	Today, Yesterday, ThisWeek, LastWeek,
	ThisMonth, LastMonth, ThisYear, LastYear, AllTime,
}

// aliases maps legacy spellings found in stored links to
// their normalized key. Hyphenated forms are handled by
// Parse before this lookup.
var aliases = map[string]Key{
	"all":      AllTime,
	"all_time": AllTime,
	"alltime":  AllTime,
}

// Parse normalizes a selector string. Hyphens and underscores
// are interchangeable and matching is case-insensitive.
// Unknown or empty selectors fall back to AllTime.
func Parse(s string) Key {
	k, _ := lookup(s)
	return k
}

// Known reports whether s names a recognized selector,
// including legacy spellings.
func Known(s string) bool {
	_, ok := lookup(s)
	return ok
}

func lookup(s string) (Key, bool) {
	norm := strings.ReplaceAll(
		strings.ToLower(strings.TrimSpace(s)), "-", "_",
	)
	if k, ok := aliases[norm]; ok {
		return k, true
	}
	for _, k := range Keys {
		if string(k) == norm {
			return k, true
		}
	}
	return AllTime, false
}

// Range is a half-open interval. A zero Start or End means
// that side is unbounded.
type Range struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// Unbounded reports whether the range applies no filter at all.
func (r Range) Unbounded() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t falls in [Start, End).
func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

func (r Range) String() string {
	f := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format(time.RFC3339)
	}
	return "[" + f(r.Start) + ", " + f(r.End) + ")"
}

// Resolve maps a key to an interval relative to now in loc.
// Weeks start on Monday. A nil loc means UTC.
func Resolve(k Key, now time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	day := startOfDay(now)

	switch k {
	case Today:
		return Range{Start: day, End: day.AddDate(0, 0, 1)}
	case Yesterday:
		return Range{Start: day.AddDate(0, 0, -1), End: day}
	case ThisWeek:
		w := startOfWeek(day)
		return Range{Start: w, End: w.AddDate(0, 0, 7)}
	case LastWeek:
		w := startOfWeek(day)
		return Range{Start: w.AddDate(0, 0, -7), End: w}
	case ThisMonth:
		m := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return Range{Start: m, End: m.AddDate(0, 1, 0)}
	case LastMonth:
		m := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return Range{Start: m.AddDate(0, -1, 0), End: m}
	case ThisYear:
		y := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, loc)
		return Range{Start: y, End: y.AddDate(1, 0, 0)}
	case LastYear:
		y := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, loc)
		return Range{Start: y.AddDate(-1, 0, 0), End: y}
	default:
		return Range{}
	}
}

// Custom builds a range from an ISO start/end pair. Each side
// may be RFC 3339 or YYYY-MM-DD; an empty side is unbounded.
// A date-only end includes that whole day.
func Custom(start, end string, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	var r Range
	if start != "" {
		t, _, err := parseBound(start, loc)
		if err != nil {
			return Range{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
		}
		r.Start = t
	}
	if end != "" {
		t, dateOnly, err := parseBound(end, loc)
		if err != nil {
			return Range{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		r.End = t
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End) {
		return Range{}, fmt.Errorf("%w: start after end", ErrInvalidRange)
	}
	return r, nil
}

func parseBound(s string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday on or before day.
func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7 // ISO Mon=0
	return day.AddDate(0, 0, -offset)
}
