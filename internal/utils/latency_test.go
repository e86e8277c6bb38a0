package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(8)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Count(); got != 8 {
		t.Fatalf("expected bounded sample count 8, got %d", got)
	}
	p100 := tracker.Percentile(100)
	if p100 != 10*time.Millisecond {
		t.Fatalf("expected max 10ms, got %v", p100)
	}
	p0 := tracker.Percentile(0)
	if p0 != 3*time.Millisecond {
		t.Fatalf("expected oldest samples evicted, min 3ms, got %v", p0)
	}
	if p95 := tracker.Percentile(95); p95 < p0 || p95 > p100 {
		t.Fatalf("p95 %v outside [min,max]", p95)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(0)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("expected zero duration for empty tracker, got %v", got)
	}
}
