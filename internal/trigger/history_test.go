package trigger

import (
	"testing"
	"time"
)

func TestHistory_TrimsToLimit(t *testing.T) {
	t.Parallel()
	h := NewHistory()
	now := time.Now()
	for i, text := range []string{"a", "b", "c"} {
		h.Append("g", Window{UserID: "u", Text: text, CreatedAt: now.Add(time.Duration(i) * time.Second)}, 2, time.Minute)
	}
	got := h.Recent("g", "u", now.Add(3*time.Second))
	if len(got) != 2 || got[0].Text != "b" || got[1].Text != "c" {
		t.Fatalf("Recent = %+v, want [b c]", got)
	}
}

func TestHistory_ZeroLimitKeepsNothing(t *testing.T) {
	t.Parallel()
	h := NewHistory()
	h.Append("g", Window{UserID: "u", CreatedAt: time.Now()}, 0, time.Minute)
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
}

func TestHistory_RecentReturnsCopy(t *testing.T) {
	t.Parallel()
	h := NewHistory()
	now := time.Now()
	h.Append("g", Window{UserID: "u", Text: "x", CreatedAt: now}, 2, time.Minute)
	got := h.Recent("g", "u", now)
	got[0].Text = "mutated"
	if h.Recent("g", "u", now)[0].Text != "x" {
		t.Fatal("Recent exposed internal storage")
	}
}
