package testfixtures

import (
	"testing"
	"time"

	_ "time/tzdata"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, time.March, 4, 13, 0, 0, 0, time.UTC)
	clock := NewClock(start)

	updated := clock.Advance(12 * time.Minute)
	if !updated.Equal(start.Add(12 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}

	clock.Set(start.Add(2 * time.Hour))
	if got := clock.Now(); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("expected %v, got %v", start.Add(2*time.Hour), got)
	}

	nowFn := clock.NowFunc()
	clock.Advance(time.Minute)
	if got := nowFn(); !got.Equal(clock.Now()) {
		t.Fatalf("expected NowFunc to follow the clock, got %v", got)
	}
}

func TestClockSetLocal(t *testing.T) {
	clock := NewClock(time.Time{})

	got, err := clock.SetLocal("Asia/Kolkata", 2024, time.March, 4, 19, 0)
	if err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
	want := time.Date(2024, time.March, 4, 13, 30, 0, 0, time.UTC)
	if !got.Equal(want) || !clock.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if _, err := clock.SetLocal("Mars/Olympus", 2024, time.March, 4, 19, 0); err == nil {
		t.Fatalf("expected unknown zone to fail")
	}
}
