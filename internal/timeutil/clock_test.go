package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		// Ticker fired as expected
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(1500 * time.Millisecond)
	if got := clock.Now(); !got.Equal(start.Add(1500 * time.Millisecond)) {
		t.Errorf("Now() = %v after Advance, want %v", got, start.Add(1500*time.Millisecond))
	}

	clock.Set(start)
	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v after Set, want %v", got, start)
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(500 * time.Millisecond)

	clock.Advance(499 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case got := <-ticker.C():
		if !got.Equal(start.Add(500 * time.Millisecond)) {
			t.Errorf("tick time = %v, want %v", got, start.Add(500*time.Millisecond))
		}
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestMockTicker_StopAndTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	mt := clock.Tickers()[0]

	ticker.Stop()
	if !mt.Stopped() {
		t.Error("Stopped() = false after Stop")
	}
	clock.Advance(2 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	mt.Trigger(time.Unix(5, 0))
	select {
	case got := <-ticker.C():
		if got.Unix() != 5 {
			t.Errorf("triggered tick = %v, want unix 5", got)
		}
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}
