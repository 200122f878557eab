package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gitlab.com/tinyland/lab/watt/actuator"
	"gitlab.com/tinyland/lab/watt/config"
	"gitlab.com/tinyland/lab/watt/history"
	"gitlab.com/tinyland/lab/watt/probe"
	"gitlab.com/tinyland/lab/watt/rules"
	"gitlab.com/tinyland/lab/watt/sysfs"
)

// maxConsecutivePanics is how many ticks in a row may panic before the
// daemon gives up.
const maxConsecutivePanics = 3

// daemon runs the single-threaded supervise loop: probe, evaluate,
// actuate, sleep. All state lives on this struct; nothing else touches
// it while the loop runs.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	fs     sysfs.FS
	prober *probe.Prober
	hist   *history.History
	act    *actuator.Actuator

	ruleSet []rules.Rule

	interval time.Duration

	consecutivePanics int
}

func newDaemon(cfg *config.Config, logger *slog.Logger, fs sysfs.FS) *daemon {
	return &daemon{
		cfg:      cfg,
		logger:   logger,
		fs:       fs,
		prober:   probe.New(fs, logger),
		hist:     history.New(),
		act:      actuator.New(fs, logger),
		ruleSet:  cfg.Rules,
		interval: cfg.PollInterval,
	}
}

// run ticks until the context is cancelled. reload delivers SIGHUP; a
// failed reload keeps the running rule set.
func (d *daemon) run(ctx context.Context, reload <-chan os.Signal) error {
	d.logger.Info("daemon started",
		"rules", len(d.ruleSet),
		"base_interval", d.cfg.PollInterval.String(),
	)

	timer := time.NewTimer(0) // first tick immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon shutting down")
			return nil

		case <-reload:
			d.reloadRules()

		case <-timer.C:
			if err := d.tick(ctx); err != nil {
				return err
			}
			timer.Reset(d.interval)
		}
	}
}

// reloadRules re-reads the config in place. Compile errors are not
// fatal at runtime; the old rule set stays active.
func (d *daemon) reloadRules() {
	cfg, err := config.Load(configFlagPath)
	if err != nil {
		d.logger.Error("config reload failed, keeping current rules", "error", err)
		return
	}
	d.ruleSet = cfg.Rules
	d.cfg = cfg
	d.logger.Info("config reloaded", "rules", len(d.ruleSet))
}

// tick runs one probe-evaluate-actuate cycle. A panic inside the cycle
// is contained and counted; the returned error is non-nil only when the
// loop should stop.
func (d *daemon) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.consecutivePanics++
			d.logger.Error("tick panicked",
				"panic", fmt.Sprint(r),
				"consecutive", d.consecutivePanics,
			)
			if d.consecutivePanics >= maxConsecutivePanics {
				err = fmt.Errorf("%d consecutive tick panics, giving up", d.consecutivePanics)
			}
		}
	}()

	start := time.Now()
	d.logger.Debug("tick.start")

	report, err := d.prober.Snapshot(ctx)
	if err != nil {
		// A machine with no CPUs in sysfs is not coming back; anything
		// else may be transient.
		d.logger.Error("probe failed", "error", err)
		d.consecutivePanics = 0
		return nil
	}

	d.hist.Append(sampleFrom(report))

	env := rules.NewEnv(report, d.hist, d.fs)
	plan := rules.EvaluateOnce(d.ruleSet, env, coreIDs(report), supplyNames(report))

	for _, name := range plan.Matched {
		d.logger.Debug("rule.match", "rule", name)
	}

	applied := 0
	if !plan.Empty() {
		for _, res := range d.act.Apply(plan, report.Caps) {
			if res.Outcome == actuator.Applied {
				applied++
			}
		}
	}

	d.interval = nextInterval(d.interval, d.cfg.PollInterval, report, d.hist)
	d.consecutivePanics = 0

	d.logger.Info("tick.end",
		"matched", len(plan.Matched),
		"applied", applied,
		"interval_ms", d.interval.Milliseconds(),
		"tick_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// sampleFrom reduces a report to the per-tick history entry.
func sampleFrom(r *probe.Report) history.Sample {
	s := history.Sample{
		At:            r.Timestamp,
		Usage:         r.Usage,
		OnAC:          r.OnAC,
		InputActivity: r.InputActivity,
	}
	s.MaxTemp, s.HasTemp = r.MaxTemp()
	s.Charge, s.HasCharge = r.MeanCharge()
	s.DrawWatts, s.HasDraw = r.TotalDrawWatts()
	return s
}

func coreIDs(r *probe.Report) []int {
	ids := make([]int, len(r.CPUs))
	for i, c := range r.CPUs {
		ids[i] = c.ID
	}
	return ids
}

func supplyNames(r *probe.Report) []string {
	names := make([]string, len(r.Batteries))
	for i, b := range r.Batteries {
		names[i] = b.Name
	}
	return names
}
