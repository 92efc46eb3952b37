package analytics

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCounterTopTieBreak(t *testing.T) {
	c := Counter{}
	for _, k := range []string{"b", "a", "c", "b", "a", "d", "", "d"} {
		c.Inc(k)
	}
	want := []Entry{
		{Key: "a", Name: "a", Count: 2},
		{Key: "b", Name: "b", Count: 2},
		{Key: "d", Name: "d", Count: 2},
		{Key: "c", Name: "c", Count: 1},
	}
	if diff := cmp.Diff(want, c.Top(0)); diff != "" {
		t.Errorf("Top(0) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want[:2], c.Top(2)); diff != "" {
		t.Errorf("Top(2) mismatch (-want +got):\n%s", diff)
	}
}

func TestCounterTopLength(t *testing.T) {
	tests := []struct {
		distinct, n, want int
	}{
		{3, 5, 3},
		{5, 5, 5},
		{8, 5, 5},
		{0, 5, 0},
		{4, 10, 4},
		{4, -1, 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.n, tt.distinct), func(t *testing.T) {
			c := Counter{}
			for i := range tt.distinct {
				c.Add(fmt.Sprintf("k%d", i), i+1)
			}
			got := c.Top(tt.n)
			if len(got) != tt.want {
				t.Errorf("len(Top(%d)) = %d, want %d", tt.n, len(got), tt.want)
			}
			if got == nil {
				t.Error("Top returned nil slice")
			}
		})
	}
}

func TestCounterTotalMatchesKeyedRecords(t *testing.T) {
	keys := []string{"x", "", "y", "x", "", "z", "x"}
	c := Counter{}
	keyed := 0
	for _, k := range keys {
		c.Inc(k)
		if k != "" {
			keyed++
		}
	}
	if c.Total() != keyed {
		t.Errorf("Total = %d, want %d", c.Total(), keyed)
	}
	if _, ok := c[""]; ok {
		t.Error("empty key was bucketed")
	}
}

func TestAggregationIdempotent(t *testing.T) {
	records := []string{"q", "w", "e", "w", "q", "r", "t", "y", "q"}
	run := func() []Entry {
		c := Counter{}
		for _, r := range records {
			c.Inc(r)
		}
		return c.Top(5)
	}
	first := run()
	for range 20 {
		if diff := cmp.Diff(first, run()); diff != "" {
			t.Fatalf("ranking changed between runs:\n%s", diff)
		}
	}
}

func TestDistinctCounterSizes(t *testing.T) {
	d := DistinctCounter{}
	d.Add("kahoot", "h1")
	d.Add("kahoot", "h1")
	d.Add("kahoot", "h2")
	d.Add("blooket", "h1")
	d.Add("", "h3")
	d.Add("blooket", "")
	want := Counter{"kahoot": 2, "blooket": 1}
	if diff := cmp.Diff(want, d.Sizes()); diff != "" {
		t.Errorf("Sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestAvg(t *testing.T) {
	tests := []struct {
		sum, count, want int
	}{
		{0, 0, 0},
		{100, 0, 0},
		{10, 4, 3},
		{10, 3, 3},
		{11, 2, 6},
		{7, 7, 1},
	}
	for _, tt := range tests {
		if got := Avg(tt.sum, tt.count); got != tt.want {
			t.Errorf("Avg(%d, %d) = %d, want %d",
				tt.sum, tt.count, got, tt.want)
		}
	}

	var s Summer
	if s.Avg() != 0 {
		t.Errorf("empty Summer.Avg = %d", s.Avg())
	}
	s.Add(30)
	s.Add(61)
	if s.Avg() != 46 {
		t.Errorf("Summer.Avg = %d, want 46", s.Avg())
	}
}
