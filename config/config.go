// Package config loads the daemon's TOML configuration and compiles the
// rule expressions into the checked form the engine evaluates.
package config

import (
	"fmt"
	"strings"
	"time"

	"gitlab.com/tinyland/lab/watt/rules"
)

// Config is the compiled daemon configuration.
type Config struct {
	// PollInterval is the base tick interval the adaptive loop works
	// from. Values below one second are floored.
	PollInterval time.Duration

	LogLevel string

	// Rules is sorted by ascending priority.
	Rules []rules.Rule
}

// Duration accepts TOML strings ("30s", "2min", "1hour") and bare
// numbers (seconds).
type Duration struct {
	time.Duration
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case int64:
		d.Duration = time.Duration(value) * time.Second
		return nil
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		parsed, err := parseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("duration must be a string or a number of seconds, got %T", v)
	}
}

// durationSuffixes maps spelled-out units onto the forms
// time.ParseDuration accepts.
var durationSuffixes = []struct{ long, short string }{
	{"hours", "h"},
	{"hour", "h"},
	{"mins", "m"},
	{"min", "m"},
	{"secs", "s"},
	{"sec", "s"},
}

// parseDuration is time.ParseDuration with spelled-out unit suffixes.
func parseDuration(s string) (time.Duration, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	for _, suffix := range durationSuffixes {
		if strings.HasSuffix(s, suffix.long) {
			s = strings.TrimSuffix(s, suffix.long) + suffix.short
			break
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return d, nil
}

// Raw TOML shapes. Expression slots decode to any and are compiled in
// compile.go.

type rawConfig struct {
	// Pointer so an explicit zero (floored to the minimum) is
	// distinguishable from an absent key (the default).
	PollInterval *Duration `toml:"poll-interval"`
	LogLevel     string    `toml:"log-level"`
	Rules        []rawRule `toml:"rule"`
}

type rawRule struct {
	Name     string `toml:"name"`
	Priority uint16 `toml:"priority"`
	If       any    `toml:"if"`

	Cpu   rawCpuActions   `toml:"cpu"`
	Power rawPowerActions `toml:"power"`
}

type rawCpuActions struct {
	For []int64 `toml:"for"`

	Governor                    any `toml:"governor"`
	EnergyPerformancePreference any `toml:"energy-performance-preference"`
	EnergyPerfBias              any `toml:"energy-perf-bias"`
	FrequencyMhzMinimum         any `toml:"frequency-mhz-minimum"`
	FrequencyMhzMaximum         any `toml:"frequency-mhz-maximum"`
	Turbo                       any `toml:"turbo"`
}

type rawPowerActions struct {
	For []string `toml:"for"`

	ChargeThresholdStart any `toml:"charge-threshold-start"`
	ChargeThresholdEnd   any `toml:"charge-threshold-end"`
	PlatformProfile      any `toml:"platform-profile"`
}
