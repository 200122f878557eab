package config

import (
	"strings"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/watt/rules"
)

func loadString(t *testing.T, toml string) (*Config, error) {
	t.Helper()
	return LoadFromReader(strings.NewReader(toml))
}

func TestCompileExpressionForms(t *testing.T) {
	cfg, err := loadString(t, `
[[rule]]
name = "forms"
priority = 1
if = { all = [
	"?discharging",
	{ value = "$cpu-temperature", is-more-than = 60 },
	{ value = "%power-supply-charge", is-equal = 0.5, leeway = 0.1 },
	{ any = [ { is-governor-available = "powersave" }, { is-driver-loaded = "intel_pstate" } ] },
	{ not = { is-unset = "%power-supply-charge" } },
	{ value = { cpu-usage-since = "1min" }, is-less-than = 0.9 },
] }

[rule.cpu]
frequency-mhz-maximum = { value = "$cpu-frequency-maximum", multiply = 0.5 }
turbo = { if = { value = "$cpu-temperature", is-less-than = 70 }, then = true, else = false }
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	r := cfg.Rules[0]
	if r.When == nil || r.Cpu.MaxFreqMHz == nil || r.Cpu.Turbo == nil {
		t.Fatalf("rule not fully compiled: %+v", r)
	}
	if ty, err := r.When.Check(); err != nil || ty != rules.TypeBool {
		t.Errorf("when type = %v, %v", ty, err)
	}
}

func TestCompileChargeThresholdsArePercent(t *testing.T) {
	cfg, err := loadString(t, `
[[rule]]
name = "longevity"
priority = 1

[rule.power]
charge-threshold-start = 75
charge-threshold-end = 80
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// Threshold values are written as percent in config but the plan
	// carries fractions.
	env := &rules.Env{}
	plan := rules.EvaluateOnce(cfg.Rules, env, nil, []string{"BAT0"})
	s := plan.Supplies["BAT0"]
	if s == nil || s.ChargeStart == nil || *s.ChargeStart != 0.75 {
		t.Errorf("ChargeStart = %+v, want 0.75", s)
	}
	if s.ChargeEnd == nil || *s.ChargeEnd != 0.80 {
		t.Errorf("ChargeEnd = %+v, want 0.80", s)
	}
}

func TestCompileUsageSinceDuration(t *testing.T) {
	cfg, err := loadString(t, `
[[rule]]
name = "busy"
priority = 1
if = { value = { cpu-usage-since = "45sec" }, is-more-than = 0.5 }
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	env := &rules.Env{MeanUsageSince: func(d time.Duration) (float64, bool) {
		if d != 45*time.Second {
			t.Errorf("duration = %v, want 45s", d)
		}
		return 0.9, true
	}}
	plan := rules.EvaluateOnce(cfg.Rules, env, nil, nil)
	if len(plan.Matched) != 1 {
		t.Errorf("rule did not match: %v", plan.Matched)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantSub string
	}{
		{
			name: "unknown variable",
			toml: `
[[rule]]
name = "r"
priority = 1
if = "?made-up"
`,
			wantSub: "unknown variable",
		},
		{
			name: "deprecated cpu-usage",
			toml: `
[[rule]]
name = "r"
priority = 1
if = { value = "%cpu-usage", is-more-than = 0.5 }
`,
			wantSub: "cpu-usage-since",
		},
		{
			name: "leeway without is-equal",
			toml: `
[[rule]]
name = "r"
priority = 1
if = { value = 1, is-less-than = 2, leeway = 0.1 }
`,
			wantSub: "leeway",
		},
		{
			name: "numeric when",
			toml: `
[[rule]]
name = "r"
priority = 1
if = 3
`,
			wantSub: "boolean",
		},
		{
			name: "non-string predicate argument",
			toml: `
[[rule]]
name = "r"
priority = 1
if = { is-governor-available = 3 }
`,
			wantSub: "string",
		},
		{
			name: "duplicate priorities",
			toml: `
[[rule]]
name = "a"
priority = 7
[[rule]]
name = "b"
priority = 7
`,
			wantSub: "priority",
		},
		{
			name: "nameless rule",
			toml: `
[[rule]]
priority = 1
`,
			wantSub: "name",
		},
		{
			name: "unrecognized operator table",
			toml: `
[[rule]]
name = "r"
priority = 1
if = { frobnicate = 1 }
`,
			wantSub: "unrecognized",
		},
		{
			name: "string frequency",
			toml: `
[[rule]]
name = "r"
priority = 1
[rule.cpu]
frequency-mhz-maximum = "fast"
`,
			wantSub: "number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadString(t, tt.toml)
			if err == nil {
				t.Fatal("compile accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestCompileCoreSelector(t *testing.T) {
	cfg, err := loadString(t, `
[[rule]]
name = "efficiency"
priority = 1

[rule.cpu]
for = [4, 5, 6, 7]
governor = "powersave"

[rule.power]
for = ["BAT0"]
platform-profile = "low-power"
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	r := cfg.Rules[0]
	if len(r.Cpu.For) != 4 || r.Cpu.For[0] != 4 {
		t.Errorf("Cpu.For = %v", r.Cpu.For)
	}
	if len(r.Power.For) != 1 || r.Power.For[0] != "BAT0" {
		t.Errorf("Power.For = %v", r.Power.For)
	}
}
