package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	t.Parallel()

	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
	if ReferenceTime().Weekday() != time.Monday {
		t.Fatalf("expected the reference time to fall on a Monday, got %s", ReferenceTime().Weekday())
	}
}

func TestClockAdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start)
	nowFn := clock.NowFunc()

	if updated := clock.Advance(90 * time.Minute); !updated.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}
	clock.Set(start.Add(2 * time.Hour))
	if got := nowFn(); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("expected NowFunc to follow Set, got %v", got)
	}
}
