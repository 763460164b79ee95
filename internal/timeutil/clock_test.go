package timeutil

import (
	"testing"
	"time"
)

func TestMockClockNowAndSet(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	later := start.Add(90 * time.Second)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", got, later)
	}
}

func TestMockClockAdvanceAndSince(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(45 * time.Second)
	if got := c.Since(start); got != 45*time.Second {
		t.Errorf("Since(start) = %v, want 45s", got)
	}
}

func TestRealClockMonotonic(t *testing.T) {
	var c RealClock
	before := c.Now()
	if c.Since(before) < 0 {
		t.Error("Since returned a negative duration")
	}
}
