package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefault(t *testing.T) {
	cfg, err := parse([]byte(defaultTOML), "builtin default")
	if err != nil {
		t.Fatalf("builtin default config does not compile: %v", err)
	}

	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, defaultPollInterval)
	}
	if len(cfg.Rules) == 0 {
		t.Fatal("default config has no rules")
	}

	for i := 1; i < len(cfg.Rules); i++ {
		if cfg.Rules[i-1].Priority >= cfg.Rules[i].Priority {
			t.Errorf("rules not sorted ascending: %d then %d",
				cfg.Rules[i-1].Priority, cfg.Rules[i].Priority)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
poll-interval = "2sec"
log-level = "debug"

[[rule]]
name = "quiet"
priority = 5
if = "?discharging"

[rule.cpu]
governor = "powersave"
frequency-mhz-maximum = 1800
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Name != "quiet" {
		t.Fatalf("Rules = %+v", cfg.Rules)
	}
	r := cfg.Rules[0]
	if r.Cpu.Governor == nil || r.Cpu.MaxFreqMHz == nil {
		t.Errorf("rule fields not compiled: %+v", r.Cpu)
	}
}

func TestLoadPollIntervalFloor(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("poll-interval = 0\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want floor of 1s", cfg.PollInterval)
	}
}

func TestLoadSearchEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.toml")
	if err := os.WriteFile(path, []byte(`
[[rule]]
name = "only"
priority = 1
`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WATT_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Name != "only" {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("missing explicit config path did not error")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"1sec", time.Second, true},
		{"2min", 2 * time.Minute, true},
		{"1hour", time.Hour, true},
		{"90secs", 90 * time.Second, true},
		{"1m30s", 90 * time.Second, true},
		{"", 0, false},
		{"fast", 0, false},
		{"-5s", 0, false},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("parseDuration(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
