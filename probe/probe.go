// Package probe snapshots the machine into a Report once per tick.
//
// Per-core cpufreq attributes, thermal zones, power supplies, and
// capability discovery come from sysfs. Per-core usage and load averages
// come from gopsutil. A Report is immutable once built.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"

	"gitlab.com/tinyland/lab/watt/sysfs"
)

const cpuRoot = "sys/devices/system/cpu"

// CPU is the per-core slice of a Report.
type CPU struct {
	ID int

	FrequencyKHz int64
	Governor     string
	EPP          string
	EPB          string

	// Usage is the busy fraction over the last sampling interval,
	// clamped to [0,1]. 0.0 on the first tick.
	Usage float64

	ScalingMinKHz  int64
	ScalingMaxKHz  int64
	HardwareMinKHz int64
	HardwareMaxKHz int64
}

// ThermalZone is one /sys/class/thermal zone reading.
type ThermalZone struct {
	Name  string
	TempC float64
}

// Capabilities is what the hardware reports as settable.
type Capabilities struct {
	Governors        []string
	EPPs             []string
	EPBs             []string
	PlatformProfiles []string

	FrequencyAvailable bool
	TurboAvailable     bool
}

// HasGovernor reports whether the named governor is available.
func (c Capabilities) HasGovernor(name string) bool { return contains(c.Governors, name) }

// HasEPP reports whether the named EPP value is available.
func (c Capabilities) HasEPP(name string) bool { return contains(c.EPPs, name) }

// HasEPB reports whether the named EPB value is available.
func (c Capabilities) HasEPB(name string) bool { return contains(c.EPBs, name) }

// HasPlatformProfile reports whether the named profile is available.
func (c Capabilities) HasPlatformProfile(name string) bool {
	return contains(c.PlatformProfiles, name)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// Report is an immutable snapshot of system state taken each tick.
type Report struct {
	Timestamp time.Time

	CPUs  []CPU
	Usage float64

	LoadAvg1  float64
	LoadAvg5  float64
	LoadAvg15 float64

	Thermal []ThermalZone

	Batteries []Battery

	OnAC        bool
	Discharging bool

	Caps Capabilities

	// InputActivity is set when an input device produced events since
	// the previous snapshot.
	InputActivity bool
}

// MaxTemp returns the hottest thermal zone, if any zone was readable.
func (r *Report) MaxTemp() (float64, bool) {
	if len(r.Thermal) == 0 {
		return 0, false
	}
	max := r.Thermal[0].TempC
	for _, z := range r.Thermal[1:] {
		if z.TempC > max {
			max = z.TempC
		}
	}
	return max, true
}

// MeanCharge returns the mean battery charge fraction across batteries.
func (r *Report) MeanCharge() (float64, bool) {
	sum, n := 0.0, 0
	for _, b := range r.Batteries {
		if b.HasCharge {
			sum += b.Charge
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// TotalDrawWatts sums signed battery draw. Negative means discharging.
func (r *Report) TotalDrawWatts() (float64, bool) {
	sum, n := 0.0, 0
	for _, b := range r.Batteries {
		if b.HasDraw {
			sum += b.DrawWatts
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum, true
}

// ScalingMaxMHz returns the highest scaling_max_freq across cores, in MHz.
func (r *Report) ScalingMaxMHz() (float64, bool) {
	var max int64
	for _, c := range r.CPUs {
		if c.ScalingMaxKHz > max {
			max = c.ScalingMaxKHz
		}
	}
	if max == 0 {
		return 0, false
	}
	return float64(max) / 1000.0, true
}

// HardwareMaxMHz returns the highest cpuinfo_max_freq across cores, in MHz.
func (r *Report) HardwareMaxMHz() (float64, bool) {
	var max int64
	for _, c := range r.CPUs {
		if c.HardwareMaxKHz > max {
			max = c.HardwareMaxKHz
		}
	}
	if max == 0 {
		return 0, false
	}
	return float64(max) / 1000.0, true
}

// HardwareMinMHz returns the lowest cpuinfo_min_freq across cores, in MHz.
func (r *Report) HardwareMinMHz() (float64, bool) {
	var min int64
	for _, c := range r.CPUs {
		if c.HardwareMinKHz > 0 && (min == 0 || c.HardwareMinKHz < min) {
			min = c.HardwareMinKHz
		}
	}
	if min == 0 {
		return 0, false
	}
	return float64(min) / 1000.0, true
}

// Prober builds Reports. It keeps the previous jiffy sample for usage
// deltas and the previous input-device state for the activity signal.
type Prober struct {
	fs     sysfs.FS
	logger *slog.Logger

	// inputDir is scanned for event-device mtimes. Default /dev/input.
	inputDir string

	prevTimes map[string]cpu.TimesStat
	lastInput time.Time

	// Enumerations cached across ticks, refreshed when a lookup fails.
	coreIDs []int
}

// New returns a Prober reading through the given FS.
func New(fs sysfs.FS, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Prober{
		fs:       fs,
		logger:   logger,
		inputDir: "/dev/input",
	}
}

// Snapshot probes the machine and returns a fresh Report.
func (p *Prober) Snapshot(ctx context.Context) (*Report, error) {
	r := &Report{Timestamp: time.Now()}

	cores, err := p.cores()
	if err != nil {
		return nil, fmt.Errorf("probe: enumerate CPUs: %w", err)
	}

	usage := p.sampleUsage(ctx)

	for _, id := range cores {
		c, err := p.scanCPU(id)
		if err != nil {
			if errors.Is(err, sysfs.ErrNotPresent) {
				// Core went offline; drop the cached enumeration.
				p.coreIDs = nil
				continue
			}
			p.logger.Warn("cpu probe failed", "cpu", id, "error", err)
			continue
		}
		c.Usage = usage[fmt.Sprintf("cpu%d", id)]
		r.CPUs = append(r.CPUs, c)
	}

	for _, c := range r.CPUs {
		r.Usage += c.Usage
	}
	if len(r.CPUs) > 0 {
		r.Usage /= float64(len(r.CPUs))
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		r.LoadAvg1, r.LoadAvg5, r.LoadAvg15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		p.logger.Warn("load average probe failed", "error", err)
	}

	r.Thermal = p.scanThermal()
	r.Batteries, r.OnAC, r.Discharging = p.scanPower()
	r.Caps = p.scanCapabilities(cores)
	r.InputActivity = p.scanInput()

	return r, nil
}

// cores enumerates cpu<N> directories, cached across ticks.
func (p *Prober) cores() ([]int, error) {
	if p.coreIDs != nil {
		return p.coreIDs, nil
	}

	entries, err := p.fs.ReadDir(cpuRoot)
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, entry := range entries {
		rest, ok := strings.CutPrefix(entry.Name(), "cpu")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	if len(ids) == 0 {
		return nil, fmt.Errorf("no CPUs found under %s", cpuRoot)
	}

	p.coreIDs = ids
	return ids, nil
}

// sampleUsage reads per-core jiffies and computes usage deltas against
// the previous sample. First tick reports 0.0 for every core.
func (p *Prober) sampleUsage(ctx context.Context) map[string]float64 {
	usage := make(map[string]float64)

	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		p.logger.Warn("cpu times probe failed", "error", err)
		return usage
	}

	cur := make(map[string]cpu.TimesStat, len(times))
	for _, t := range times {
		cur[t.CPU] = t
		if prev, ok := p.prevTimes[t.CPU]; ok {
			usage[t.CPU] = usageBetween(prev, t)
		}
	}
	p.prevTimes = cur

	return usage
}

// usageBetween computes (non-idle delta) / (total delta), clamped to [0,1].
func usageBetween(prev, cur cpu.TimesStat) float64 {
	prevTotal := statTotal(prev)
	curTotal := statTotal(cur)
	totalDelta := curTotal - prevTotal
	if totalDelta <= 0 {
		return 0
	}

	idleDelta := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	busy := 1 - idleDelta/totalDelta

	if busy < 0 {
		return 0
	}
	if busy > 1 {
		return 1
	}
	return busy
}

func statTotal(t cpu.TimesStat) float64 {
	return t.User + t.Nice + t.System + t.Idle + t.Iowait +
		t.Irq + t.Softirq + t.Steal
}

func (p *Prober) scanCPU(id int) (CPU, error) {
	c := CPU{ID: id}
	dir := fmt.Sprintf("%s/cpu%d/cpufreq", cpuRoot, id)

	if !p.fs.Exists(dir) {
		// Cores without cpufreq still exist; they just carry no knobs.
		if !p.fs.Exists(fmt.Sprintf("%s/cpu%d", cpuRoot, id)) {
			return c, fmt.Errorf("%w: cpu%d", sysfs.ErrNotPresent, id)
		}
		return c, nil
	}

	// Attributes are individually optional; a missing one stays zero.
	read := func(dst *int64, attr string) {
		if v, err := p.fs.ReadInt64(dir, attr); err == nil {
			*dst = v
		}
	}
	read(&c.FrequencyKHz, "scaling_cur_freq")
	read(&c.ScalingMinKHz, "scaling_min_freq")
	read(&c.ScalingMaxKHz, "scaling_max_freq")
	read(&c.HardwareMinKHz, "cpuinfo_min_freq")
	read(&c.HardwareMaxKHz, "cpuinfo_max_freq")

	if v, err := p.fs.ReadLine(dir, "scaling_governor"); err == nil {
		c.Governor = v
	}
	if v, err := p.fs.ReadLine(dir, "energy_performance_preference"); err == nil {
		c.EPP = v
	}
	if v, err := p.fs.ReadLine(dir, "energy_perf_bias"); err == nil {
		c.EPB = v
	}

	return c, nil
}

func (p *Prober) scanThermal() []ThermalZone {
	entries, err := p.fs.ReadDir("sys/class/thermal")
	if err != nil {
		return nil
	}

	var zones []ThermalZone
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "thermal_zone") {
			continue
		}

		milli, err := p.fs.ReadInt64("sys/class/thermal", name, "temp")
		if err != nil {
			continue
		}

		zoneType, _ := p.fs.ReadLine("sys/class/thermal", name, "type")
		zones = append(zones, ThermalZone{
			Name:  zoneType,
			TempC: float64(milli) / 1000.0,
		})
	}
	return zones
}

// epbSymbolic is what energy_perf_bias accepts besides raw 0..15.
var epbSymbolic = []string{
	"performance", "balance-performance", "balance_performance",
	"balance-power", "balance_power", "power", "normal",
}

func (p *Prober) scanCapabilities(cores []int) Capabilities {
	var caps Capabilities

	seenGov := map[string]bool{}
	seenEPP := map[string]bool{}

	for _, id := range cores {
		dir := fmt.Sprintf("%s/cpu%d/cpufreq", cpuRoot, id)
		if !p.fs.Exists(dir) {
			continue
		}
		caps.FrequencyAvailable = true

		if words, err := p.fs.ReadWords(dir, "scaling_available_governors"); err == nil {
			for _, w := range words {
				if !seenGov[w] {
					seenGov[w] = true
					caps.Governors = append(caps.Governors, w)
				}
			}
		}
		if words, err := p.fs.ReadWords(dir, "energy_performance_available_preferences"); err == nil {
			for _, w := range words {
				if !seenEPP[w] {
					seenEPP[w] = true
					caps.EPPs = append(caps.EPPs, w)
				}
			}
		}
		if p.fs.Exists(dir, "energy_perf_bias") && caps.EPBs == nil {
			for i := 0; i <= 15; i++ {
				caps.EPBs = append(caps.EPBs, strconv.Itoa(i))
			}
			caps.EPBs = append(caps.EPBs, epbSymbolic...)
		}
	}

	if words, err := p.fs.ReadWords("sys/firmware/acpi/platform_profile_choices"); err == nil {
		caps.PlatformProfiles = words
	}

	caps.TurboAvailable = p.fs.Exists(cpuRoot, "intel_pstate", "no_turbo") ||
		p.fs.Exists(cpuRoot, "cpufreq", "boost")

	return caps
}

// scanInput reports whether any /dev/input event device has been written
// to since the previous snapshot.
func (p *Prober) scanInput() bool {
	entries, err := os.ReadDir(p.inputDir)
	if err != nil {
		return false
	}

	var latest time.Time
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "event") {
			continue
		}
		info, err := os.Stat(filepath.Join(p.inputDir, entry.Name()))
		if err != nil {
			continue
		}
		if mt := info.ModTime(); mt.After(latest) {
			latest = mt
		}
	}

	active := !p.lastInput.IsZero() && latest.After(p.lastInput)
	if latest.After(p.lastInput) {
		p.lastInput = latest
	}
	return active
}
