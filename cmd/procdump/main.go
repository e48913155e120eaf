// Command procdump is a Linux process-observer: it watches one target
// process (by PID or by name) and collects a core dump via gcore whenever
// a CPU or commit-memory threshold crosses, or unconditionally on a timer,
// up to a configured dump count. See SPEC_FULL.md for the full design.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tklauser/numcpus"

	"github.com/gocoredump/procdump/internal/auditlog"
	"github.com/gocoredump/procdump/internal/history"
	"github.com/gocoredump/procdump/internal/monitor"
	"github.com/gocoredump/procdump/internal/procopts"
	"github.com/gocoredump/procdump/internal/samplers"
)

// version is the build-time version string for -v/--version (spec §12
// supplement: a version flag, ambient in every CLI the pack shows).
const version = "0.1.0"

func main() {
	opts, err := procopts.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, procopts.Usage())
		os.Exit(2)
	}
	if opts.Help {
		fmt.Fprint(os.Stdout, procopts.Usage())
		return
	}
	if opts.Version {
		fmt.Fprintf(os.Stdout, "procdump %s\n", version)
		return
	}

	numCPU, err := numcpus.GetOnline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "procdump: querying online CPU count: %v\n", err)
		os.Exit(1)
	}

	cfg, err := procopts.Validate(opts, numCPU)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, procopts.Usage())
		os.Exit(2)
	}

	logger := newLogger(cfg.Diagnostics)

	var audit *auditlog.Logger
	if cfg.Diagnostics {
		audit, err = auditlog.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", slog.String("path", cfg.AuditLogPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer audit.Close()
	}

	hist, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		logger.Error("failed to open history store", slog.String("path", cfg.HistoryDBPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer hist.Close()

	runID := "local"
	if audit != nil {
		runID = audit.RunID().String()
	}

	invoker := &auditingInvoker{
		inner:     monitor.GcoreInvoker{OutputDir: cfg.OutputDir},
		audit:     audit,
		history:   hist,
		runID:     runID,
		outputDir: cfg.OutputDir,
	}

	mon := monitor.New(cfg, logger, invoker)
	ctrl := monitor.NewController(mon, printBanner, printConfig)

	if cfg.TimerOnly {
		ctrl.RegisterSampler("timer", samplers.NewTimerSampler(invoker))
	} else {
		if cfg.CPUEnabled {
			ctrl.RegisterSampler("cpu", samplers.NewCPUSampler(invoker))
		}
		if cfg.CommitEnabled {
			ctrl.RegisterSampler("commit", samplers.NewCommitSampler(invoker))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recordEvent(audit, auditlog.EventMonitorStarted, map[string]any{
		"pid": cfg.PID, "process_name": cfg.ProcessName, "timer_only": cfg.TimerOnly,
	})

	if err := ctrl.Run(ctx); err != nil {
		logger.Error("monitor run failed", slog.Any("error", err))
		recordEvent(audit, auditlog.EventTargetLost, map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	recordEvent(audit, auditlog.EventMonitorStopped, map[string]any{
		"dumps_collected": mon.Mutable().DumpsCollected(),
		"terminated":      mon.Mutable().Terminated(),
	})

	logger.Info("procdump exited cleanly", slog.Int64("dumps_collected", mon.Mutable().DumpsCollected()))
}

// newLogger constructs a *slog.Logger writing JSON-structured records to
// stderr, at debug level when diagnostics are enabled and info otherwise —
// the same shape as the teacher's newLogger, minus the string-keyed level
// switch since procdump only has the one diagnostics toggle (spec §3).
func newLogger(diagnostics bool) *slog.Logger {
	level := slog.LevelInfo
	if diagnostics {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// printBanner renders the one-time startup banner (spec §4.D P5); banner
// and help-text rendering are explicitly out of scope for the monitor core
// (spec §1), so this lives in main rather than internal/monitor.
func printBanner(cfg *procopts.Config) {
	fmt.Fprintf(os.Stderr, "procdump %s -- Linux process observer\n", version)
}

// printConfig renders the resolved configuration once, after the banner
// (spec §4.D).
func printConfig(cfg *procopts.Config) {
	target := fmt.Sprintf("pid=%d", cfg.PID)
	if cfg.NameGiven {
		target = fmt.Sprintf("name=%q", cfg.ProcessName)
	}
	fmt.Fprintf(os.Stderr, "target: %s, dumps-to-collect: %d, threshold-seconds: %d, timer-only: %t\n",
		target, cfg.DumpsToCollect, cfg.ThresholdSeconds, cfg.TimerOnly)
}

// recordEvent is a nil-safe wrapper around audit.Record: the audit log is
// only opened when diagnostics are enabled (spec §3), so every call site
// would otherwise need its own nil check.
func recordEvent(audit *auditlog.Logger, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if _, err := audit.Record(event, detail); err != nil {
		fmt.Fprintf(os.Stderr, "procdump: audit log write failed: %v\n", err)
	}
}
