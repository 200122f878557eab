// watt supervises CPU frequency scaling and platform power knobs on
// Linux. It evaluates a priority-ordered rule set against live system
// state every tick and writes the winning settings to sysfs.
//
// Usage:
//
//	watt [flags]
//
// Flags:
//
//	-daemon                   Run the supervise loop (requires root)
//	-info                     Print current hardware state and matching rules
//	-config string            Path to configuration file
//	-set-governor string      Apply a scaling governor once and exit
//	-set-epp string           Apply an energy performance preference once and exit
//	-set-epb string           Apply an energy performance bias once and exit
//	-set-turbo string         Enable or disable turbo once (on|off) and exit
//	-set-profile string       Apply an ACPI platform profile once and exit
//	-set-charge-thresholds string  Apply charge thresholds once (start:end percent) and exit
//	-verbose                  Enable debug logging
//	-version                  Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/watt/config"
	"gitlab.com/tinyland/lab/watt/sysfs"
)

// Exit codes, sysexits-flavored.
const (
	exitOK          = 0
	exitConfig      = 64
	exitUnsupported = 69
	exitPermission  = 77
)

// configFlagPath is the -config value, kept package-level so SIGHUP
// reloads resolve the same file.
var configFlagPath string

func main() {
	var (
		runDaemon   = flag.Bool("daemon", false, "Run the supervise loop (requires root)")
		runInfo     = flag.Bool("info", false, "Print current hardware state and matching rules")
		setGovernor = flag.String("set-governor", "", "Apply a scaling governor once and exit")
		setEPP      = flag.String("set-epp", "", "Apply an energy performance preference once and exit")
		setEPB      = flag.String("set-epb", "", "Apply an energy performance bias once and exit")
		setTurbo    = flag.String("set-turbo", "", "Enable or disable turbo once (on|off) and exit")
		setProfile  = flag.String("set-profile", "", "Apply an ACPI platform profile once and exit")
		setCharge   = flag.String("set-charge-thresholds", "", "Apply charge thresholds once (start:end percent) and exit")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(&configFlagPath, "config", "", "Path to configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("watt %s (%s) built %s\n", version, commit, date)
		os.Exit(exitOK)
	}

	cfg, err := config.Load(configFlagPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watt: %v\n", err)
		os.Exit(exitConfig)
	}

	logger := newLogger(cfg.LogLevel, *verbose)
	fs := sysfs.New()

	if !fs.Exists("sys/devices/system/cpu/cpu0/cpufreq") {
		fmt.Fprintln(os.Stderr, "watt: no cpufreq support on this machine")
		os.Exit(exitUnsupported)
	}

	oneShot := oneShotRequest{
		governor: *setGovernor,
		epp:      *setEPP,
		epb:      *setEPB,
		turbo:    *setTurbo,
		profile:  *setProfile,
		charge:   *setCharge,
	}

	switch {
	case *runInfo:
		os.Exit(runInfoMode(fs, cfg, logger))

	case oneShot.any():
		requireSysfsWritable(fs)
		os.Exit(runOneShot(fs, logger, oneShot))

	case *runDaemon:
		requireSysfsWritable(fs)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-term
			cancel()
		}()

		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)

		d := newDaemon(cfg, logger, fs)
		if err := d.run(ctx, reload); err != nil {
			logger.Error("daemon failed", "error", err)
			os.Exit(1)
		}
		os.Exit(exitOK)

	default:
		fmt.Printf("watt %s (%s) built %s\n", version, commit, date)
		fmt.Println()
		fmt.Println("Usage: watt [flags]")
		fmt.Println()
		flag.PrintDefaults()
	}
}

// requireSysfsWritable exits 77 when the governor knob exists but is not
// writable, which on a stock kernel means we are not root.
func requireSysfsWritable(fs sysfs.FS) {
	path := "sys/devices/system/cpu/cpu0/cpufreq/scaling_governor"
	if !fs.Exists(path) {
		return
	}
	if err := unix.Access(fs.Path(path), unix.W_OK); err != nil {
		fmt.Fprintln(os.Stderr, "watt: sysfs is not writable, run as root")
		os.Exit(exitPermission)
	}
}

func newLogger(level string, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug", "trace":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "off":
		lvl = slog.LevelError + 4
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
