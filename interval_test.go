package main

import (
	"testing"
	"time"

	"gitlab.com/tinyland/lab/watt/history"
	"gitlab.com/tinyland/lab/watt/probe"
)

const baseInterval = 5 * time.Second

func near(t *testing.T, got, want, tol time.Duration) {
	t.Helper()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tol {
		t.Errorf("interval = %v, want %v (±%v)", got, want, tol)
	}
}

// idleHistory returns a window of zero-usage samples ending at now,
// spanning the given duration at 10s steps.
func idleHistory(now time.Time, span time.Duration) *history.History {
	h := history.New()
	for at := now.Add(-span); !at.After(now); at = at.Add(10 * time.Second) {
		h.Append(history.Sample{At: at})
	}
	return h
}

func TestNextIntervalBusyShrinks(t *testing.T) {
	r := &probe.Report{Timestamp: time.Now(), Usage: 0.9, OnAC: true}

	got := nextInterval(baseInterval, baseInterval, r, history.New())
	if got >= baseInterval {
		t.Errorf("interval = %v, want below base %v", got, baseInterval)
	}
	if got < intervalFloor {
		t.Errorf("interval = %v, below floor", got)
	}
}

func TestNextIntervalIdleGrowsOnBattery(t *testing.T) {
	now := time.Now()
	r := &probe.Report{Timestamp: now}
	h := idleHistory(now, 5*time.Minute)

	got := nextInterval(baseInterval, baseInterval, r, h)
	if got <= baseInterval {
		t.Fatalf("interval = %v, want above base %v", got, baseInterval)
	}

	// Repeated idle ticks converge on the battery-idle ceiling.
	for i := 0; i < 30; i++ {
		got = nextInterval(got, baseInterval, r, h)
	}
	near(t, got, intervalCeilingBattIdle, time.Second)
}

func TestNextIntervalCeilingOnAC(t *testing.T) {
	now := time.Now()
	r := &probe.Report{Timestamp: now, OnAC: true}
	h := idleHistory(now, 5*time.Minute)

	got := baseInterval
	for i := 0; i < 30; i++ {
		got = nextInterval(got, baseInterval, r, h)
		if got > intervalCeilingAC {
			t.Fatalf("interval = %v exceeds AC ceiling %v", got, intervalCeilingAC)
		}
	}
	near(t, got, intervalCeilingAC, time.Second)
}

func TestNextIntervalThermalVolatilityCaps(t *testing.T) {
	now := time.Now()
	r := &probe.Report{Timestamp: now, OnAC: true}

	h := history.New()
	for i := 0; i < 6; i++ {
		temp := 60.0
		if i%2 == 1 {
			temp = 70.0
		}
		h.Append(history.Sample{
			At:      now.Add(time.Duration(i-6) * 10 * time.Second),
			MaxTemp: temp,
			HasTemp: true,
			OnAC:    true,
		})
	}

	got := baseInterval
	for i := 0; i < 30; i++ {
		got = nextInterval(got, baseInterval, r, h)
	}
	near(t, got, 2*time.Second, 100*time.Millisecond)
}

func TestNextIntervalDischargeShortens(t *testing.T) {
	now := time.Now()
	r := &probe.Report{Timestamp: now, Discharging: true}

	// Steady 20 W draw over a minute.
	h := history.New()
	for i := 0; i <= 6; i++ {
		h.Append(history.Sample{
			At:        now.Add(time.Duration(i-6) * 10 * time.Second),
			DrawWatts: -20,
			HasDraw:   true,
		})
	}

	got := nextInterval(baseInterval, baseInterval, r, h)
	if got >= baseInterval {
		t.Fatalf("interval = %v, want below base %v", got, baseInterval)
	}

	// 20 W at 0.02/W scales the base by 0.6.
	for i := 0; i < 30; i++ {
		got = nextInterval(got, baseInterval, r, h)
	}
	near(t, got, 3*time.Second, 100*time.Millisecond)
}

func TestNextIntervalUserActivityResets(t *testing.T) {
	now := time.Now()
	r := &probe.Report{Timestamp: now, InputActivity: true}

	h := idleHistory(now, 5*time.Minute)
	h.Append(history.Sample{At: now, InputActivity: true})

	// Even deep in idle decay, user presence pulls back to the base rate.
	got := nextInterval(intervalCeilingBattIdle, baseInterval, r, h)
	if got >= intervalCeilingBattIdle {
		t.Fatalf("interval = %v, want below ceiling", got)
	}
	for i := 0; i < 30; i++ {
		got = nextInterval(got, baseInterval, r, h)
	}
	near(t, got, baseInterval, 100*time.Millisecond)
}

func TestNextIntervalNeverBelowFloor(t *testing.T) {
	r := &probe.Report{Timestamp: time.Now(), Usage: 1.0, Discharging: true}

	got := intervalFloor
	for i := 0; i < 10; i++ {
		got = nextInterval(got, intervalFloor, r, history.New())
		if got < intervalFloor {
			t.Fatalf("interval = %v, below floor %v", got, intervalFloor)
		}
	}
}
