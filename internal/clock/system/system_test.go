package system

import (
	"testing"
	"time"
)

func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	got := clk.Now()
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	// Scraped-at comparisons in the store assume wall-clock proximity.
	if d := time.Since(got); d < -time.Second || d > time.Second {
		t.Fatalf("timestamp %v drifts %v from the real clock", got, d)
	}
}

func TestNowIsNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected %v >= %v", second, first)
	}
}
