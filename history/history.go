// Package history keeps a sliding window of per-tick system samples and
// derives the signals the rule DSL and the adaptive poller consume:
// volatility, idle time, discharge rate, and user activity.
package history

import (
	"math"
	"time"
)

const (
	// DefaultMaxSamples bounds the window by count.
	DefaultMaxSamples = 300

	// DefaultMaxAge bounds the window by duration.
	DefaultMaxAge = 5 * time.Minute

	// DefaultActivityThreshold is the usage fraction above which a tick
	// counts as CPU activity for idle tracking.
	DefaultActivityThreshold = 0.1

	// usageJump is the tick-to-tick usage increase treated as a user
	// activity signal.
	usageJump = 0.3

	// dischargeMinSpan is the minimum window span before a discharge
	// rate is reported.
	dischargeMinSpan = 30 * time.Second
)

// Sample is one tick's worth of history.
type Sample struct {
	At time.Time

	Usage float64

	MaxTemp    float64
	HasTemp    bool

	Charge    float64
	HasCharge bool

	// DrawWatts is signed battery draw; negative while discharging.
	DrawWatts float64
	HasDraw   bool

	OnAC          bool
	InputActivity bool
}

// History is the bounded sample window. Not safe for concurrent use; the
// daemon loop is single-threaded by design.
type History struct {
	samples []Sample

	maxSamples        int
	maxAge            time.Duration
	activityThreshold float64
}

// New returns a History with the default bounds.
func New() *History {
	return &History{
		maxSamples:        DefaultMaxSamples,
		maxAge:            DefaultMaxAge,
		activityThreshold: DefaultActivityThreshold,
	}
}

// Append adds a sample and trims the window by count and age.
func (h *History) Append(s Sample) {
	h.samples = append(h.samples, s)

	if overflow := len(h.samples) - h.maxSamples; overflow > 0 {
		h.samples = h.samples[overflow:]
	}

	cutoff := s.At.Add(-h.maxAge)
	first := 0
	for first < len(h.samples) && h.samples[first].At.Before(cutoff) {
		first++
	}
	h.samples = h.samples[first:]
}

// Len returns the number of retained samples.
func (h *History) Len() int { return len(h.samples) }

// Last returns the most recent sample.
func (h *History) Last() (Sample, bool) {
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// UsageVolatility is the sample standard deviation of CPU usage over the
// window. Needs at least two samples.
func (h *History) UsageVolatility() (float64, bool) {
	var vals []float64
	for _, s := range h.samples {
		vals = append(vals, s.Usage)
	}
	return stddev(vals)
}

// TemperatureVolatility is the sample standard deviation of the max core
// temperature over the window. Needs at least two temperature samples.
func (h *History) TemperatureVolatility() (float64, bool) {
	var vals []float64
	for _, s := range h.samples {
		if s.HasTemp {
			vals = append(vals, s.MaxTemp)
		}
	}
	return stddev(vals)
}

func stddev(vals []float64) (float64, bool) {
	n := len(vals)
	if n < 2 {
		return 0, false
	}

	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1)), true
}

// IdleSeconds returns the seconds elapsed since the last sample whose
// usage reached the activity threshold. If no sample was ever active,
// the span of the whole window is returned.
func (h *History) IdleSeconds(now time.Time) (float64, bool) {
	if len(h.samples) == 0 {
		return 0, false
	}

	for i := len(h.samples) - 1; i >= 0; i-- {
		if h.samples[i].Usage >= h.activityThreshold {
			return now.Sub(h.samples[i].At).Seconds(), true
		}
	}
	return now.Sub(h.samples[0].At).Seconds(), true
}

// MeanUsageSince averages CPU usage over the trailing duration d. It is
// unavailable until at least two samples fall inside the window.
func (h *History) MeanUsageSince(now time.Time, d time.Duration) (float64, bool) {
	cutoff := now.Add(-d)

	var sum float64
	n := 0
	for i := len(h.samples) - 1; i >= 0; i-- {
		if h.samples[i].At.Before(cutoff) {
			break
		}
		sum += h.samples[i].Usage
		n++
	}

	if n < 2 {
		return 0, false
	}
	return sum / float64(n), true
}

// DischargeRate is the battery outflow in watts, derived as the
// least-squares slope of cumulative discharged energy over the trailing
// window. A steady 20 W draw therefore yields 20. Unavailable until the
// window spans at least 30 seconds of draw samples, or while not
// discharging.
func (h *History) DischargeRate() (float64, bool) {
	// Collect (t, cumulative joules discharged) points via trapezoid
	// integration of the signed draw.
	var (
		ts     []float64
		energy []float64
	)

	var cum float64
	var prev *Sample
	for i := range h.samples {
		s := &h.samples[i]
		if !s.HasDraw {
			prev = nil
			continue
		}

		if prev != nil {
			dt := s.At.Sub(prev.At).Seconds()
			if dt > 0 {
				// Outflow only: charging does not produce a
				// negative discharge rate.
				out := 0.0
				if w := -(prev.DrawWatts + s.DrawWatts) / 2; w > 0 {
					out = w
				}
				cum += out * dt
			}
		}

		ts = append(ts, s.At.Sub(h.samples[0].At).Seconds())
		energy = append(energy, cum)
		prev = s
	}

	if len(ts) < 2 || ts[len(ts)-1]-ts[0] < dischargeMinSpan.Seconds() {
		return 0, false
	}

	slope, ok := leastSquaresSlope(ts, energy)
	if !ok || slope <= 0 {
		return 0, false
	}
	return slope, true
}

func leastSquaresSlope(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	if n < 2 {
		return 0, false
	}

	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}

// UserActivity reports a coarse user-presence signal: an input-device
// event on the latest sample, or a large usage jump between the last two
// samples.
func (h *History) UserActivity() bool {
	n := len(h.samples)
	if n == 0 {
		return false
	}
	if h.samples[n-1].InputActivity {
		return true
	}
	if n < 2 {
		return false
	}
	return h.samples[n-1].Usage-h.samples[n-2].Usage > usageJump
}
