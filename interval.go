package main

import (
	"time"

	"gitlab.com/tinyland/lab/watt/history"
	"gitlab.com/tinyland/lab/watt/probe"
)

// Interval tuning. The loop samples faster when something is happening
// (load, heat, battery drain) and decays toward the ceiling when the
// machine is idle.
const (
	intervalFloor            = time.Second
	intervalCeilingAC        = 30 * time.Second
	intervalCeilingBattIdle  = 60 * time.Second
	dischargeIntervalCeiling = 10 * time.Second

	// dischargePerWatt scales how strongly battery draw shortens the
	// interval: at 50 W the discharge candidate reaches its floor.
	dischargePerWatt = 0.02

	// usageVolatilityBoost halves the activity candidate above this
	// usage standard deviation.
	usageVolatilityBoost = 0.1

	// tempVolatilityCap caps the interval at two seconds when the
	// temperature standard deviation exceeds this many °C.
	tempVolatilityCap = 2.0

	// idleDoubleAfter is how long the machine must be idle before the
	// interval starts doubling toward the ceiling.
	idleDoubleAfter = 60.0

	// EMA smoothing: next = emaPrev·previous + emaNew·raw.
	emaPrev = 0.7
	emaNew  = 0.3
)

// nextInterval derives the next tick interval from the previous one, the
// base configured interval, and the current snapshot and history.
func nextInterval(prev, base time.Duration, r *probe.Report, h *history.History) time.Duration {
	ceiling := intervalCeilingAC

	idleSeconds, idleKnown := h.IdleSeconds(r.Timestamp)
	if !r.OnAC && idleKnown && idleSeconds > idleDoubleAfter {
		ceiling = intervalCeilingBattIdle
	}

	raw := rawInterval(base, ceiling, r, h, idleSeconds, idleKnown)

	next := time.Duration(emaPrev*float64(prev) + emaNew*float64(raw))
	return clampInterval(next, ceiling)
}

// rawInterval is the pre-smoothing candidate: the minimum of every
// contributing floor, so the most urgent signal wins.
func rawInterval(base, ceiling time.Duration, r *probe.Report, h *history.History, idleSeconds float64, idleKnown bool) time.Duration {
	// Idle progression: each extra minute of idle doubles the
	// candidate, capped at the ceiling.
	candidate := base
	if idleKnown && idleSeconds > idleDoubleAfter {
		candidate = base
		for extra := idleSeconds - idleDoubleAfter; extra > 0 && candidate < ceiling; extra -= 60 {
			candidate *= 2
		}
		if candidate > ceiling {
			candidate = ceiling
		}
	}

	// CPU activity: busy machines sample faster. Below the activity
	// threshold the machine counts as idle and this candidate would
	// only cancel the idle progression, so it is skipped.
	if r.Usage >= history.DefaultActivityThreshold {
		activity := time.Duration(float64(base) * (1 - r.Usage))
		if vol, ok := h.UsageVolatility(); ok && vol > usageVolatilityBoost {
			activity /= 2
		}
		if activity < candidate {
			candidate = activity
		}
	}

	// Battery discharge: heavier draw samples faster.
	if r.Discharging {
		if rate, ok := h.DischargeRate(); ok {
			d := time.Duration(float64(base) * (1 - dischargePerWatt*rate))
			if d < intervalFloor {
				d = intervalFloor
			}
			if d > dischargeIntervalCeiling {
				d = dischargeIntervalCeiling
			}
			if d < candidate {
				candidate = d
			}
		}
	}

	// Thermal volatility: a swinging temperature needs a close watch.
	if vol, ok := h.TemperatureVolatility(); ok && vol > tempVolatilityCap {
		if candidate > 2*time.Second {
			candidate = 2 * time.Second
		}
	}

	// User activity trumps idle decay: come back to the base rate.
	if h.UserActivity() && candidate > base {
		candidate = base
	}

	if candidate < intervalFloor {
		candidate = intervalFloor
	}
	return candidate
}

func clampInterval(d, ceiling time.Duration) time.Duration {
	if d < intervalFloor {
		return intervalFloor
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
