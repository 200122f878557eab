// Package actuator translates a tick's plan into sysfs writes: governor,
// EPP, EPB, frequency limits, turbo, platform profile, and battery
// charge thresholds. Individual failures never abort a tick; they are
// logged with per-target de-duplication.
package actuator

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strconv"

	"gitlab.com/tinyland/lab/watt/probe"
	"gitlab.com/tinyland/lab/watt/rules"
	"gitlab.com/tinyland/lab/watt/sysfs"
)

// Outcome classifies one apply attempt.
type Outcome int

const (
	Applied Outcome = iota
	Unsupported
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unsupported:
		return "unsupported"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one setting on one target.
type Result struct {
	Setting string
	Target  string
	Value   string
	Outcome Outcome
	Err     error
}

// Actuator owns the writable sysfs surface. The per-target outcome cache
// backs log de-duplication: a result is logged only when its outcome
// kind changes.
type Actuator struct {
	fs     sysfs.FS
	logger *slog.Logger

	lastLogged map[string]string
}

// New returns an Actuator over fs.
func New(fs sysfs.FS, logger *slog.Logger) *Actuator {
	return &Actuator{
		fs:         fs,
		logger:     logger,
		lastLogged: make(map[string]string),
	}
}

// Apply carries out the plan and returns every result. Order within the
// tick: frequency limits first so the governor sees the new range, then
// governor, EPP, EPB, then turbo, platform profile, and charge
// thresholds.
func (a *Actuator) Apply(plan *rules.Plan, caps probe.Capabilities) []Result {
	var results []Result

	add := func(r Result) {
		a.logResult(r)
		results = append(results, r)
	}

	for _, id := range sortedCores(plan.Cpus) {
		s := plan.Cpus[id]

		if s.MinFreqMHz != nil || s.MaxFreqMHz != nil {
			for _, r := range a.applyFreqRange(id, s.MinFreqMHz, s.MaxFreqMHz) {
				add(r)
			}
		}
		if s.Governor != nil {
			add(a.applyGovernor(id, *s.Governor, caps))
		}
		if s.EPP != nil {
			add(a.applyEPP(id, *s.EPP, caps))
		}
		if s.EPB != nil {
			add(a.applyEPB(id, *s.EPB, caps))
		}
	}

	if plan.Turbo != nil {
		add(a.applyTurbo(*plan.Turbo))
	}
	if plan.PlatformProfile != nil {
		add(a.applyPlatformProfile(*plan.PlatformProfile, caps))
	}

	for _, name := range sortedSupplies(plan.Supplies) {
		for _, r := range a.applyChargeThresholds(name, plan.Supplies[name]) {
			add(r)
		}
	}

	return results
}

func sortedCores(m map[int]*rules.CpuSettings) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortedSupplies(m map[string]*rules.SupplySettings) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cpufreqPath(cpu int, attr string) string {
	return filepath.Join("sys/devices/system/cpu", "cpu"+strconv.Itoa(cpu), "cpufreq", attr)
}

func cpuTarget(id int) string { return "cpu" + strconv.Itoa(id) }

// mhzToKHzString converts a plan frequency in MHz to the kernel's kHz
// representation.
func mhzToKHzString(mhz float64) string {
	return strconv.FormatInt(int64(math.Round(mhz*1000)), 10)
}

func (a *Actuator) write(setting, target, path, value string) Result {
	r := Result{Setting: setting, Target: target, Value: value}
	if err := a.fs.WriteLine(value, path); err != nil {
		r.Err = err
		if errors.Is(err, sysfs.ErrNotPresent) || errors.Is(err, sysfs.ErrUnsupported) {
			r.Outcome = Unsupported
		} else {
			r.Outcome = Failed
		}
	}
	return r
}

func unsupported(setting, target, value, reason string) Result {
	return Result{
		Setting: setting,
		Target:  target,
		Value:   value,
		Outcome: Unsupported,
		Err:     fmt.Errorf("%s: %w", reason, sysfs.ErrUnsupported),
	}
}

func invalid(setting, target, value, reason string) Result {
	return Result{
		Setting: setting,
		Target:  target,
		Value:   value,
		Outcome: Failed,
		Err:     fmt.Errorf("%s: %w", reason, sysfs.ErrInvalidValue),
	}
}

func (a *Actuator) applyGovernor(id int, gov string, caps probe.Capabilities) Result {
	if !caps.HasGovernor(gov) {
		return unsupported("governor", cpuTarget(id), gov, "governor not offered by the driver")
	}
	return a.write("governor", cpuTarget(id), cpufreqPath(id, "scaling_governor"), gov)
}

func (a *Actuator) applyEPP(id int, epp string, caps probe.Capabilities) Result {
	if !caps.HasEPP(epp) {
		return unsupported("epp", cpuTarget(id), epp, "preference not offered by the driver")
	}
	return a.write("epp", cpuTarget(id), cpufreqPath(id, "energy_performance_preference"), epp)
}

func (a *Actuator) applyEPB(id int, epb string, caps probe.Capabilities) Result {
	if !caps.HasEPB(epb) {
		return unsupported("epb", cpuTarget(id), epb, "bias value not recognized")
	}
	return a.write("epb", cpuTarget(id), cpufreqPath(id, "energy_perf_bias"), epb)
}

// applyFreqRange writes scaling_min_freq and scaling_max_freq in an
// order that never exposes min > max to the kernel, reading the paired
// value first when only one side changes.
func (a *Actuator) applyFreqRange(id int, minMHz, maxMHz *float64) []Result {
	target := cpuTarget(id)

	if minMHz != nil && maxMHz != nil {
		if *minMHz > *maxMHz {
			return []Result{invalid("frequency-range", target,
				fmt.Sprintf("%g..%g", *minMHz, *maxMHz), "minimum exceeds maximum")}
		}

		curMinKHz, err := a.fs.ReadInt64(cpufreqPath(id, "scaling_min_freq"))
		newMaxKHz := int64(math.Round(*maxMHz * 1000))

		var results []Result
		if err == nil && newMaxKHz < curMinKHz {
			// Lower the floor before tightening the ceiling.
			results = append(results,
				a.write("min-frequency", target, cpufreqPath(id, "scaling_min_freq"), mhzToKHzString(*minMHz)),
				a.write("max-frequency", target, cpufreqPath(id, "scaling_max_freq"), mhzToKHzString(*maxMHz)))
		} else {
			results = append(results,
				a.write("max-frequency", target, cpufreqPath(id, "scaling_max_freq"), mhzToKHzString(*maxMHz)),
				a.write("min-frequency", target, cpufreqPath(id, "scaling_min_freq"), mhzToKHzString(*minMHz)))
		}
		return results
	}

	if minMHz != nil {
		if curMax, err := a.fs.ReadInt64(cpufreqPath(id, "scaling_max_freq")); err == nil {
			if int64(math.Round(*minMHz*1000)) > curMax {
				return []Result{invalid("min-frequency", target,
					mhzToKHzString(*minMHz), "minimum exceeds current maximum")}
			}
		}
		return []Result{a.write("min-frequency", target, cpufreqPath(id, "scaling_min_freq"), mhzToKHzString(*minMHz))}
	}

	if curMin, err := a.fs.ReadInt64(cpufreqPath(id, "scaling_min_freq")); err == nil {
		if int64(math.Round(*maxMHz*1000)) < curMin {
			return []Result{invalid("max-frequency", target,
				mhzToKHzString(*maxMHz), "maximum falls below current minimum")}
		}
	}
	return []Result{a.write("max-frequency", target, cpufreqPath(id, "scaling_max_freq"), mhzToKHzString(*maxMHz))}
}

// turboPaths is the probe order for turbo control. intel_pstate's
// no_turbo has inverted polarity.
var turboPaths = []struct {
	path     string
	inverted bool
}{
	{"sys/devices/system/cpu/intel_pstate/no_turbo", true},
	{"sys/devices/system/cpu/amd_pstate/cpufreq/boost", false},
	{"sys/devices/system/cpu/cpufreq/amd_pstate_enable_boost", false},
	{"sys/devices/system/cpu/cpufreq/boost", false},
}

func (a *Actuator) applyTurbo(enabled bool) Result {
	for _, tp := range turboPaths {
		if !a.fs.Exists(tp.path) {
			continue
		}
		v := enabled
		if tp.inverted {
			v = !v
		}
		value := "0"
		if v {
			value = "1"
		}
		return a.write("turbo", "system", tp.path, value)
	}

	// Last resort: per-core boost files.
	value := "0"
	if enabled {
		value = "1"
	}
	wrote := false
	var last Result
	for _, id := range a.onlineCores() {
		p := cpufreqPath(id, "boost")
		if !a.fs.Exists(p) {
			continue
		}
		last = a.write("turbo", cpuTarget(id), p, value)
		wrote = true
		if last.Outcome != Applied {
			return last
		}
	}
	if wrote {
		last.Target = "system"
		return last
	}
	return unsupported("turbo", "system", value, "no turbo control exposed")
}

func (a *Actuator) onlineCores() []int {
	entries, err := a.fs.ReadDir("sys/devices/system/cpu")
	if err != nil {
		return nil
	}
	var ids []int
	for _, e := range entries {
		name := e.Name()
		var id int
		if _, err := fmt.Sscanf(name, "cpu%d", &id); err == nil && name == "cpu"+strconv.Itoa(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Actuator) applyPlatformProfile(profile string, caps probe.Capabilities) Result {
	if !caps.HasPlatformProfile(profile) {
		return unsupported("platform-profile", "system", profile, "profile not offered by the firmware")
	}
	return a.write("platform-profile", "system", "sys/firmware/acpi/platform_profile", profile)
}

// applyChargeThresholds converts fractions to integer percent and writes
// the vendor threshold pair without ever exposing start > end: when the
// window moves up the end threshold rises first, when it moves down the
// start threshold falls first.
func (a *Actuator) applyChargeThresholds(supply string, s *rules.SupplySettings) []Result {
	paths, ok := a.thresholdPaths(supply)
	value := thresholdValueString(s)
	if !ok {
		return []Result{unsupported("charge-thresholds", supply, value, "no threshold control exposed")}
	}

	var startPct, endPct int
	if s.ChargeStart != nil {
		startPct = int(math.Round(*s.ChargeStart * 100))
		if startPct < 0 || startPct > 100 {
			return []Result{invalid("charge-thresholds", supply, value, "start threshold out of range")}
		}
	}
	if s.ChargeEnd != nil {
		endPct = int(math.Round(*s.ChargeEnd * 100))
		if endPct < 0 || endPct > 100 {
			return []Result{invalid("charge-thresholds", supply, value, "end threshold out of range")}
		}
	}

	if s.ChargeStart != nil && s.ChargeEnd != nil {
		if startPct >= endPct {
			return []Result{invalid("charge-thresholds", supply, value, "start threshold not below end")}
		}

		curEnd, err := a.fs.ReadInt64(paths.end)
		startFirst := err == nil && int64(startPct) < curEnd && int64(endPct) < curEnd

		startW := func() Result {
			return a.write("charge-threshold-start", supply, paths.start, strconv.Itoa(startPct))
		}
		endW := func() Result {
			return a.write("charge-threshold-end", supply, paths.end, strconv.Itoa(endPct))
		}
		if startFirst {
			return []Result{startW(), endW()}
		}
		return []Result{endW(), startW()}
	}

	if s.ChargeStart != nil {
		return []Result{a.write("charge-threshold-start", supply, paths.start, strconv.Itoa(startPct))}
	}
	return []Result{a.write("charge-threshold-end", supply, paths.end, strconv.Itoa(endPct))}
}

type thresholdPair struct {
	start, end string
}

// thresholdPaths resolves the vendor threshold files for a supply by
// probing the same table the probe layer uses.
func (a *Actuator) thresholdPaths(supply string) (thresholdPair, bool) {
	base := filepath.Join("sys/class/power_supply", supply)
	for _, tp := range probe.ThresholdTable() {
		start := filepath.Join(base, tp.Start)
		end := filepath.Join(base, tp.End)
		if a.fs.Exists(start) && a.fs.Exists(end) {
			return thresholdPair{start: start, end: end}, true
		}
	}
	return thresholdPair{}, false
}

func thresholdValueString(s *rules.SupplySettings) string {
	switch {
	case s.ChargeStart != nil && s.ChargeEnd != nil:
		return fmt.Sprintf("%g..%g", *s.ChargeStart, *s.ChargeEnd)
	case s.ChargeStart != nil:
		return fmt.Sprintf("%g..", *s.ChargeStart)
	case s.ChargeEnd != nil:
		return fmt.Sprintf("..%g", *s.ChargeEnd)
	default:
		return ""
	}
}

// logResult emits one structured event per outcome change for a
// (target, setting) pair. Repeats of the same outcome stay silent so a
// permanently missing knob does not flood the log every tick.
func (a *Actuator) logResult(r Result) {
	key := r.Target + "/" + r.Setting
	state := r.Outcome.String()
	if r.Err != nil {
		state += ":" + errKind(r.Err)
	}
	if a.lastLogged[key] == state {
		return
	}
	a.lastLogged[key] = state

	attrs := []any{"setting", r.Setting, "target", r.Target, "value", r.Value}
	switch r.Outcome {
	case Applied:
		a.logger.Info("actuator.apply", attrs...)
	case Unsupported:
		a.logger.Debug("actuator.unsupported", append(attrs, "error", r.Err)...)
	default:
		switch {
		case errors.Is(r.Err, sysfs.ErrPermission):
			a.logger.Error("actuator.error", append(attrs, "error", r.Err)...)
		default:
			a.logger.Warn("actuator.error", append(attrs, "error", r.Err)...)
		}
	}
}

func errKind(err error) string {
	switch {
	case errors.Is(err, sysfs.ErrNotPresent):
		return "not-present"
	case errors.Is(err, sysfs.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, sysfs.ErrPermission):
		return "permission"
	case errors.Is(err, sysfs.ErrInvalidValue):
		return "invalid"
	default:
		return "other"
	}
}
