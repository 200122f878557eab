package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/watt/config"
	"gitlab.com/tinyland/lab/watt/history"
	"gitlab.com/tinyland/lab/watt/internal/color"
	"gitlab.com/tinyland/lab/watt/internal/format"
	"gitlab.com/tinyland/lab/watt/probe"
	"gitlab.com/tinyland/lab/watt/rules"
	"gitlab.com/tinyland/lab/watt/sysfs"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308"))
)

// runInfoMode prints a one-shot snapshot of the machine plus which rules
// would match right now. The return value is the process exit code.
func runInfoMode(fs sysfs.FS, cfg *config.Config, logger *slog.Logger) int {
	color.Apply()

	report, err := probe.New(fs, logger).Snapshot(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "watt: %v\n", err)
		return exitUnsupported
	}

	var b strings.Builder
	writeCPUSection(&b, report)
	writeThermalSection(&b, report)
	writePowerSection(&b, report)
	writeCapsSection(&b, report)
	writeRulesSection(&b, cfg, report, fs)

	fmt.Print(b.String())
	return exitOK
}

func writeCPUSection(b *strings.Builder, r *probe.Report) {
	fmt.Fprintln(b, headingStyle.Render("CPU"))
	fmt.Fprintf(b, "  %s %.0f%%   %s %.2f %.2f %.2f\n",
		labelStyle.Render("usage"), r.Usage*100,
		labelStyle.Render("load"), r.LoadAvg1, r.LoadAvg5, r.LoadAvg15)

	for _, c := range r.CPUs {
		fmt.Fprintf(b, "  cpu%-3d %10s", c.ID, format.MHz(c.FrequencyKHz))
		if c.ScalingMinKHz > 0 || c.ScalingMaxKHz > 0 {
			fmt.Fprintf(b, "  [%s..%s]", format.MHz(c.ScalingMinKHz), format.MHz(c.ScalingMaxKHz))
		}
		if c.Governor != "" {
			fmt.Fprintf(b, "  %s", c.Governor)
		}
		if c.EPP != "" {
			fmt.Fprintf(b, "  epp=%s", c.EPP)
		}
		if c.EPB != "" {
			fmt.Fprintf(b, "  epb=%s", c.EPB)
		}
		fmt.Fprintln(b)
	}
	fmt.Fprintln(b)
}

func writeThermalSection(b *strings.Builder, r *probe.Report) {
	if len(r.Thermal) == 0 {
		return
	}
	fmt.Fprintln(b, headingStyle.Render("Thermal"))
	for _, z := range r.Thermal {
		temp := format.TempC(z.TempC)
		if z.TempC >= 80 {
			temp = warnStyle.Render(temp)
		}
		name := z.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(b, "  %-24s %s\n", name, temp)
	}
	fmt.Fprintln(b)
}

func writePowerSection(b *strings.Builder, r *probe.Report) {
	fmt.Fprintln(b, headingStyle.Render("Power"))

	source := "battery"
	if r.OnAC {
		source = "AC"
	}
	fmt.Fprintf(b, "  %s %s\n", labelStyle.Render("source"), source)

	for _, bat := range r.Batteries {
		fmt.Fprintf(b, "  %-8s", bat.Name)
		if bat.HasCharge {
			fmt.Fprintf(b, " %4s", format.Percent(bat.Charge))
		}
		if bat.Status != "" {
			fmt.Fprintf(b, "  %s", bat.Status)
		}
		if bat.HasDraw {
			fmt.Fprintf(b, "  %s", format.Watts(bat.DrawWatts))
		}
		if bat.HasThresholds {
			fmt.Fprintf(b, "  thresholds %s..%s (%s)",
				format.Percent(bat.ChargeStart), format.Percent(bat.ChargeEnd), bat.Vendor)
		}
		fmt.Fprintln(b)
	}
	fmt.Fprintln(b)
}

func writeCapsSection(b *strings.Builder, r *probe.Report) {
	fmt.Fprintln(b, headingStyle.Render("Capabilities"))

	avail := func(name string, ok bool) {
		state := okStyle.Render("available")
		if !ok {
			state = labelStyle.Render("not available")
		}
		fmt.Fprintf(b, "  %-24s %s\n", name, state)
	}
	avail("frequency scaling", r.Caps.FrequencyAvailable)
	avail("turbo / boost", r.Caps.TurboAvailable)

	list := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		fmt.Fprintf(b, "  %-24s %s\n", name, strings.Join(values, " "))
	}
	list("governors", r.Caps.Governors)
	list("epp", r.Caps.EPPs)
	list("platform profiles", r.Caps.PlatformProfiles)
	if len(r.Caps.EPBs) > 0 {
		fmt.Fprintf(b, "  %-24s 0..15 and symbolic names\n", "epb")
	}
	fmt.Fprintln(b)
}

func writeRulesSection(b *strings.Builder, cfg *config.Config, r *probe.Report, fs sysfs.FS) {
	fmt.Fprintln(b, headingStyle.Render("Rules"))

	env := rules.NewEnv(r, history.New(), fs)
	plan := rules.EvaluateOnce(cfg.Rules, env, nil, nil)

	matched := make(map[string]bool, len(plan.Matched))
	for _, name := range plan.Matched {
		matched[name] = true
	}

	for _, rule := range cfg.Rules {
		marker := labelStyle.Render("-")
		if matched[rule.Name] {
			marker = okStyle.Render("*")
		}
		fmt.Fprintf(b, "  %s %-32s priority %d\n", marker, rule.Name, rule.Priority)
	}
}
