// Package analytics builds dashboard KPIs and top-N leaderboards
// from rows fetched through a db.Source.
package analytics

import (
	"math"
	"sort"
)

// Entry is one ranked bucket.
type Entry struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Counter tallies counts per grouping key.
type Counter map[string]int

// Add adds n to key. Empty keys are skipped.
func (c Counter) Add(key string, n int) {
	if key == "" {
		return
	}
	c[key] += n
}

// Inc adds one to key.
func (c Counter) Inc(key string) { c.Add(key, 1) }

// Total returns the sum over all buckets.
func (c Counter) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Top returns the n largest buckets, count descending with ties
// broken by key ascending. n <= 0 returns every bucket.
func (c Counter) Top(n int) []Entry {
	entries := make([]Entry, 0, len(c))
	for k, v := range c {
		entries = append(entries, Entry{Key: k, Name: k, Count: v})
	}
	sortEntries(entries)
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
}

// DistinctCounter accumulates a set of ids per group.
type DistinctCounter map[string]map[string]struct{}

// Add records id under group. Empty groups or ids are skipped.
func (d DistinctCounter) Add(group, id string) {
	if group == "" || id == "" {
		return
	}
	set, ok := d[group]
	if !ok {
		set = make(map[string]struct{})
		d[group] = set
	}
	set[id] = struct{}{}
}

// Sizes returns the set size per group.
func (d DistinctCounter) Sizes() Counter {
	c := make(Counter, len(d))
	for g, set := range d {
		c[g] = len(set)
	}
	return c
}

// Summer keeps a running sum and count for averages.
type Summer struct {
	Sum   int
	Count int
}

// Add records one observation.
func (s *Summer) Add(v int) {
	s.Sum += v
	s.Count++
}

// Avg returns the rounded mean.
func (s Summer) Avg() int { return Avg(s.Sum, s.Count) }

// Avg returns round(sum/count), or 0 when count is 0.
func Avg(sum, count int) int {
	if count <= 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(count)))
}
