package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gitlab.com/tinyland/lab/watt/actuator"
	"gitlab.com/tinyland/lab/watt/probe"
	"gitlab.com/tinyland/lab/watt/rules"
	"gitlab.com/tinyland/lab/watt/sysfs"
)

// oneShotRequest collects the -set-* flags. Several may be combined in a
// single invocation; they are applied as one plan.
type oneShotRequest struct {
	governor string
	epp      string
	epb      string
	turbo    string
	profile  string
	charge   string
}

func (r oneShotRequest) any() bool {
	return r.governor != "" || r.epp != "" || r.epb != "" ||
		r.turbo != "" || r.profile != "" || r.charge != ""
}

// runOneShot applies the requested settings to every core and supply
// once and exits. The return value is the process exit code.
func runOneShot(fs sysfs.FS, logger *slog.Logger, req oneShotRequest) int {
	plan, err := req.plan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "watt: %v\n", err)
		return exitConfig
	}

	report, err := probe.New(fs, logger).Snapshot(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "watt: %v\n", err)
		return exitUnsupported
	}

	settings := &rules.CpuSettings{}
	if req.governor != "" {
		settings.Governor = &req.governor
	}
	if req.epp != "" {
		settings.EPP = &req.epp
	}
	if req.epb != "" {
		settings.EPB = &req.epb
	}
	if settings.Governor != nil || settings.EPP != nil || settings.EPB != nil {
		plan.Cpus = make(map[int]*rules.CpuSettings, len(report.CPUs))
		for _, c := range report.CPUs {
			plan.Cpus[c.ID] = settings
		}
	}
	if plan.Supplies != nil {
		supplies := make(map[string]*rules.SupplySettings, len(report.Batteries))
		for _, b := range report.Batteries {
			supplies[b.Name] = plan.Supplies[""]
		}
		plan.Supplies = supplies
	}

	code := exitOK
	for _, res := range actuator.New(fs, logger).Apply(plan, report.Caps) {
		switch res.Outcome {
		case actuator.Applied:
			fmt.Printf("%s %s = %s\n", res.Target, res.Setting, res.Value)
		case actuator.Unsupported:
			fmt.Fprintf(os.Stderr, "watt: %s: %s unsupported\n", res.Target, res.Setting)
			if code == exitOK {
				code = exitUnsupported
			}
		case actuator.Failed:
			fmt.Fprintf(os.Stderr, "watt: %s: %v\n", res.Target, res.Err)
			if errors.Is(res.Err, sysfs.ErrPermission) {
				code = exitPermission
			} else if code == exitOK {
				code = 1
			}
		}
	}
	return code
}

// plan builds the target-independent part of the plan: turbo, platform
// profile, and charge thresholds. Per-core and per-supply maps are
// filled in once the hardware has been enumerated.
func (r oneShotRequest) plan() (*rules.Plan, error) {
	plan := &rules.Plan{}

	switch r.turbo {
	case "":
	case "on", "true", "1":
		t := true
		plan.Turbo = &t
	case "off", "false", "0":
		t := false
		plan.Turbo = &t
	default:
		return nil, fmt.Errorf("-set-turbo: want on or off, got %q", r.turbo)
	}

	if r.profile != "" {
		plan.PlatformProfile = &r.profile
	}

	if r.charge != "" {
		start, end, err := parseChargeThresholds(r.charge)
		if err != nil {
			return nil, err
		}
		// Keyed by "" until supplies are enumerated.
		plan.Supplies = map[string]*rules.SupplySettings{
			"": {ChargeStart: &start, ChargeEnd: &end},
		}
	}

	return plan, nil
}

// parseChargeThresholds parses "start:end" in percent and returns charge
// fractions.
func parseChargeThresholds(s string) (start, end float64, err error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("-set-charge-thresholds: want start:end, got %q", s)
	}
	startPct, err1 := strconv.Atoi(strings.TrimSpace(lo))
	endPct, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("-set-charge-thresholds: want start:end, got %q", s)
	}
	if startPct < 0 || endPct > 100 || startPct >= endPct {
		return 0, 0, fmt.Errorf("-set-charge-thresholds: want 0 <= start < end <= 100, got %d:%d", startPct, endPct)
	}
	return float64(startPct) / 100, float64(endPct) / 100, nil
}
