package rules

import (
	"path/filepath"
	"strconv"
	"time"

	"gitlab.com/tinyland/lab/watt/history"
	"gitlab.com/tinyland/lab/watt/probe"
	"gitlab.com/tinyland/lab/watt/sysfs"
)

// optional is a number that may be absent.
type optional struct {
	n  float64
	ok bool
}

func some(n float64) optional            { return optional{n: n, ok: true} }
func maybe(n float64, ok bool) optional  { return optional{n: n, ok: ok} }

func (o optional) value() Value {
	if !o.ok {
		return Unavailable
	}
	return NumberValue(o.n)
}

// Env resolves DSL variables against one tick's snapshot and the
// accumulated history. It is rebuilt every tick and read-only during
// evaluation.
type Env struct {
	Now time.Time

	Caps probe.Capabilities

	Discharging bool
	CoreCount   int

	LoadAvg1  optional
	LoadAvg5  optional
	LoadAvg15 optional

	CpuTemperature        optional
	IdleSeconds           optional
	UsageVolatility       optional
	TemperatureVolatility optional

	FreqMaxMHz    optional // hardware ceiling
	FreqMinMHz    optional // hardware floor
	ScalingMaxMHz optional

	Charge        optional
	DischargeRate optional

	// MeanUsageSince backs cpu-usage-since; nil means no history.
	MeanUsageSince func(d time.Duration) (float64, bool)

	// DriverLoaded answers the driver-loaded predicate; nil means
	// the question cannot be answered on this system.
	DriverLoaded func(name string) bool
}

// NewEnv builds the evaluation environment for one tick.
func NewEnv(r *probe.Report, h *history.History, fs sysfs.FS) *Env {
	env := &Env{
		Now:         r.Timestamp,
		Caps:        r.Caps,
		Discharging: r.Discharging,
		CoreCount:   len(r.CPUs),
	}

	// Load averages are zero-valued only when /proc/loadavg was
	// unreadable, which the probe reports as all zeros. Treat an
	// all-zero triple on a machine with cores as a real reading.
	env.LoadAvg1 = some(r.LoadAvg1)
	env.LoadAvg5 = some(r.LoadAvg5)
	env.LoadAvg15 = some(r.LoadAvg15)

	env.CpuTemperature = maybe(r.MaxTemp())
	env.FreqMaxMHz = maybe(r.HardwareMaxMHz())
	env.FreqMinMHz = maybe(r.HardwareMinMHz())
	env.ScalingMaxMHz = maybe(r.ScalingMaxMHz())
	env.Charge = maybe(r.MeanCharge())

	if h != nil {
		env.IdleSeconds = maybe(h.IdleSeconds(r.Timestamp))
		env.UsageVolatility = maybe(h.UsageVolatility())
		env.TemperatureVolatility = maybe(h.TemperatureVolatility())
		env.DischargeRate = maybe(h.DischargeRate())
		env.MeanUsageSince = func(d time.Duration) (float64, bool) {
			return h.MeanUsageSince(r.Timestamp, d)
		}
	}

	env.DriverLoaded = func(name string) bool {
		return driverLoaded(fs, r, name)
	}

	return env
}

// driverLoaded reports whether the named kernel module is loaded or the
// named cpufreq driver serves any core. Built-in drivers have no
// /sys/module entry, hence the scaling_driver fallback.
func driverLoaded(fs sysfs.FS, r *probe.Report, name string) bool {
	if fs.Exists(filepath.Join("sys/module", name)) {
		return true
	}
	if fs.Exists(filepath.Join("sys/devices/system/cpu", name)) {
		return true
	}
	for _, c := range r.CPUs {
		driver, err := fs.ReadLine(cpufreqPath(c.ID, "scaling_driver"))
		if err == nil && driver == name {
			return true
		}
	}
	return false
}

func cpufreqPath(cpu int, attr string) string {
	return filepath.Join("sys/devices/system/cpu", "cpu"+strconv.Itoa(cpu), "cpufreq", attr)
}

// Lookup resolves a sigil-prefixed variable name. Unknown names return
// Unavailable, but the typechecker rejects them before evaluation.
func (env *Env) Lookup(name string) Value {
	switch name {
	case "$cpu-temperature":
		return env.CpuTemperature.value()
	case "$cpu-idle-seconds":
		return env.IdleSeconds.value()
	case "$cpu-usage-volatility":
		return env.UsageVolatility.value()
	case "$cpu-temperature-volatility":
		return env.TemperatureVolatility.value()
	case "$cpu-frequency-maximum":
		return env.FreqMaxMHz.value()
	case "$cpu-frequency-minimum":
		return env.FreqMinMHz.value()
	case "$cpu-scaling-maximum":
		return env.ScalingMaxMHz.value()
	case "$load-average-1m":
		return env.LoadAvg1.value()
	case "$load-average-5m":
		return env.LoadAvg5.value()
	case "$load-average-15m":
		return env.LoadAvg15.value()
	case "$hour-of-day":
		return NumberValue(float64(env.Now.Hour()))
	case "%cpu-core-count":
		return NumberValue(float64(env.CoreCount))
	case "%power-supply-charge":
		return env.Charge.value()
	case "%power-supply-discharge-rate":
		return env.DischargeRate.value()
	case "?discharging":
		return BoolValue(env.Discharging)
	case "?frequency-available":
		return BoolValue(env.Caps.FrequencyAvailable)
	case "?turbo-available":
		return BoolValue(env.Caps.TurboAvailable)
	default:
		return Unavailable
	}
}
