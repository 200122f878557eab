package main

import (
	"testing"
)

func TestParseChargeThresholds(t *testing.T) {
	tests := []struct {
		in         string
		start, end float64
		ok         bool
	}{
		{"75:80", 0.75, 0.80, true},
		{"0:100", 0, 1, true},
		{" 40 : 60 ", 0.40, 0.60, true},
		{"80:75", 0, 0, false},
		{"80:80", 0, 0, false},
		{"-5:80", 0, 0, false},
		{"75:120", 0, 0, false},
		{"75", 0, 0, false},
		{"a:b", 0, 0, false},
	}

	for _, tt := range tests {
		start, end, err := parseChargeThresholds(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("parseChargeThresholds(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && (start != tt.start || end != tt.end) {
			t.Errorf("parseChargeThresholds(%q) = %v, %v, want %v, %v",
				tt.in, start, end, tt.start, tt.end)
		}
	}
}

func TestOneShotPlan(t *testing.T) {
	req := oneShotRequest{turbo: "off", profile: "quiet", charge: "75:80"}
	plan, err := req.plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if plan.Turbo == nil || *plan.Turbo {
		t.Errorf("Turbo = %v, want false", plan.Turbo)
	}
	if plan.PlatformProfile == nil || *plan.PlatformProfile != "quiet" {
		t.Errorf("PlatformProfile = %v", plan.PlatformProfile)
	}
	s := plan.Supplies[""]
	if s == nil || *s.ChargeStart != 0.75 || *s.ChargeEnd != 0.80 {
		t.Errorf("Supplies = %+v", plan.Supplies)
	}
}

func TestOneShotPlanBadTurbo(t *testing.T) {
	req := oneShotRequest{turbo: "maybe"}
	if _, err := req.plan(); err == nil {
		t.Error("plan accepted invalid turbo value")
	}
}

func TestOneShotAny(t *testing.T) {
	if (oneShotRequest{}).any() {
		t.Error("empty request reports any")
	}
	if !(oneShotRequest{epp: "power"}).any() {
		t.Error("epp request not detected")
	}
}
