package history

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fill appends n samples spaced dt apart, starting at t0, with usage
// values cycled from usages.
func fill(h *History, n int, dt time.Duration, usages ...float64) time.Time {
	at := t0
	for i := 0; i < n; i++ {
		h.Append(Sample{At: at, Usage: usages[i%len(usages)]})
		at = at.Add(dt)
	}
	return at.Add(-dt)
}

func TestTrimByCount(t *testing.T) {
	h := New()
	fill(h, DefaultMaxSamples+50, time.Millisecond, 0.5)

	if h.Len() != DefaultMaxSamples {
		t.Errorf("Len = %d, want %d", h.Len(), DefaultMaxSamples)
	}
}

func TestTrimByAge(t *testing.T) {
	h := New()
	h.Append(Sample{At: t0, Usage: 0.5})
	h.Append(Sample{At: t0.Add(10 * time.Minute), Usage: 0.5})

	if h.Len() != 1 {
		t.Errorf("Len = %d, want 1 after age trim", h.Len())
	}
}

func TestUsageVolatility(t *testing.T) {
	h := New()

	if _, ok := h.UsageVolatility(); ok {
		t.Error("volatility available with no samples")
	}

	h.Append(Sample{At: t0, Usage: 0.2})
	if _, ok := h.UsageVolatility(); ok {
		t.Error("volatility available with one sample")
	}

	h.Append(Sample{At: t0.Add(time.Second), Usage: 0.4})
	h.Append(Sample{At: t0.Add(2 * time.Second), Usage: 0.6})

	got, ok := h.UsageVolatility()
	if !ok {
		t.Fatal("volatility unavailable")
	}
	// Sample stddev of {0.2, 0.4, 0.6} is 0.2.
	if math.Abs(got-0.2) > 1e-9 {
		t.Errorf("UsageVolatility = %v, want 0.2", got)
	}
}

func TestTemperatureVolatilitySkipsMissing(t *testing.T) {
	h := New()
	h.Append(Sample{At: t0, MaxTemp: 50, HasTemp: true})
	h.Append(Sample{At: t0.Add(time.Second)}) // no temp
	h.Append(Sample{At: t0.Add(2 * time.Second), MaxTemp: 54, HasTemp: true})

	got, ok := h.TemperatureVolatility()
	if !ok {
		t.Fatal("unavailable with two temp samples")
	}
	// Sample stddev of {50, 54}.
	want := math.Sqrt(8)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("TemperatureVolatility = %v, want %v", got, want)
	}
}

func TestIdleSeconds(t *testing.T) {
	h := New()
	h.Append(Sample{At: t0, Usage: 0.5})
	h.Append(Sample{At: t0.Add(10 * time.Second), Usage: 0.05})
	h.Append(Sample{At: t0.Add(20 * time.Second), Usage: 0.02})

	now := t0.Add(30 * time.Second)
	got, ok := h.IdleSeconds(now)
	if !ok {
		t.Fatal("unavailable")
	}
	if got != 30 {
		t.Errorf("IdleSeconds = %v, want 30 (since last active sample)", got)
	}
}

func TestIdleSecondsAllIdle(t *testing.T) {
	h := New()
	h.Append(Sample{At: t0, Usage: 0.01})
	h.Append(Sample{At: t0.Add(time.Minute), Usage: 0.02})

	got, ok := h.IdleSeconds(t0.Add(2 * time.Minute))
	if !ok || got != 120 {
		t.Errorf("IdleSeconds = %v (%v), want window span 120", got, ok)
	}
}

func TestMeanUsageSince(t *testing.T) {
	h := New()
	last := fill(h, 10, 5*time.Second, 0.2, 0.4)
	now := last.Add(time.Second)

	// Only one sample within 5s: unavailable.
	if _, ok := h.MeanUsageSince(now, 5*time.Second); ok {
		t.Error("available with a single in-window sample")
	}

	got, ok := h.MeanUsageSince(now, 12*time.Second)
	if !ok {
		t.Fatal("unavailable with three samples in window")
	}
	// Last three samples are 0.4, 0.2, 0.4.
	want := (0.4 + 0.2 + 0.4) / 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("MeanUsageSince = %v, want %v", got, want)
	}
}

func TestDischargeRateGating(t *testing.T) {
	h := New()

	// Constant 20 W discharge, samples every 5 s.
	at := t0
	for i := 0; i < 3; i++ { // spans only 10 s
		h.Append(Sample{At: at, DrawWatts: -20, HasDraw: true})
		at = at.Add(5 * time.Second)
	}

	if _, ok := h.DischargeRate(); ok {
		t.Error("discharge rate available with only 10s of history")
	}

	for i := 0; i < 5; i++ { // extend past 30 s
		h.Append(Sample{At: at, DrawWatts: -20, HasDraw: true})
		at = at.Add(5 * time.Second)
	}

	got, ok := h.DischargeRate()
	if !ok {
		t.Fatal("discharge rate unavailable with 35s of history")
	}
	if math.Abs(got-20) > 1e-6 {
		t.Errorf("DischargeRate = %v, want 20", got)
	}
}

func TestDischargeRateWhileCharging(t *testing.T) {
	h := New()
	at := t0
	for i := 0; i < 10; i++ {
		h.Append(Sample{At: at, DrawWatts: 30, HasDraw: true}) // charging
		at = at.Add(5 * time.Second)
	}

	if _, ok := h.DischargeRate(); ok {
		t.Error("discharge rate reported while charging")
	}
}

func TestUserActivity(t *testing.T) {
	h := New()
	h.Append(Sample{At: t0, Usage: 0.1})
	h.Append(Sample{At: t0.Add(time.Second), Usage: 0.15})
	if h.UserActivity() {
		t.Error("small usage delta flagged as activity")
	}

	h.Append(Sample{At: t0.Add(2 * time.Second), Usage: 0.6})
	if !h.UserActivity() {
		t.Error("large usage jump not flagged")
	}

	h.Append(Sample{At: t0.Add(3 * time.Second), Usage: 0.6, InputActivity: true})
	if !h.UserActivity() {
		t.Error("input event not flagged")
	}
}
