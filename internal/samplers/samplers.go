// Package samplers provides reference implementations of the three
// trigger loops the monitor core treats as external collaborators (spec
// §1 Non-goals, §4.F "the sampler collaborator"): CPU, commit (resident
// memory), and timer-only. Their internals are explicitly out of the
// core's specification; this package exists so the procdump binary has
// something runnable to spawn against the monitor.Core contract, grounded
// on the teacher's NetworkWatcher poll loop (ticker + select on a stop
// signal) and using gopsutil for the /proc-backed process metrics.
package samplers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/gocoredump/procdump/internal/monitor"
	"github.com/gocoredump/procdump/internal/procopts"
)

// triggerDump acquires the dump slot, invokes the dump collaborator, and
// records the result — the sequence every sampler performs on a trigger
// (spec §4.F sampler contract, §4.G "increment collected... before
// releasing the semaphore").
func triggerDump(ctx context.Context, core monitor.Core, invoker monitor.DumpInvoker, reason string) {
	if err := core.AcquireDumpSlot(ctx); err != nil {
		return
	}
	defer core.ReleaseDumpSlot()

	pid := core.Config().PID
	err := invoker.Invoke(ctx, pid, reason, func(childPID int) {
		core.Mutable().SetGcorePID(int64(childPID))
	})
	core.Mutable().SetGcorePID(0)

	if err != nil {
		core.Logger().Warn("dump invocation failed",
			slog.Int("pid", pid), slog.String("reason", reason), slog.Any("error", err))
		return
	}
	core.RecordDump()
	core.Logger().Info("dump collected",
		slog.Int("pid", pid), slog.String("reason", reason),
		slog.Int64("dumps_collected", core.Mutable().DumpsCollected()))
}

// NewCPUSampler returns a SamplerFunc that dumps when the target's CPU
// usage crosses cfg.CPUThreshold in cfg.CPUDirection, sampled once every
// cfg.ThresholdSeconds.
func NewCPUSampler(invoker monitor.DumpInvoker) monitor.SamplerFunc {
	return func(ctx context.Context, core monitor.Core) {
		core.WaitForStart(ctx)
		cfg := core.Config()

		proc, err := process.NewProcess(int32(cfg.PID))
		if err != nil {
			core.Logger().Error("cpu sampler: resolving process", slog.Int("pid", cfg.PID), slog.Any("error", err))
			return
		}

		interval := time.Duration(cfg.ThresholdSeconds) * time.Second
		for core.ContinueMonitoring() {
			if core.WaitForQuit(interval) != monitor.StatusTimeout {
				return
			}
			pct, err := proc.PercentWithContext(ctx, 0)
			if err != nil {
				core.Logger().Debug("cpu sampler: sample failed", slog.Any("error", err))
				continue
			}
			if cpuTriggered(pct, cfg) {
				triggerDump(ctx, core, invoker, "cpu")
			}
		}
	}
}

func cpuTriggered(pct float64, cfg *procopts.Config) bool {
	if cfg.CPUDirection == procopts.DirGE {
		return pct >= float64(cfg.CPUThreshold)
	}
	return pct < float64(cfg.CPUThreshold)
}

// NewCommitSampler returns a SamplerFunc that dumps when the target's
// resident memory crosses cfg.CommitThresholdMiB in cfg.CommitDirection.
func NewCommitSampler(invoker monitor.DumpInvoker) monitor.SamplerFunc {
	return func(ctx context.Context, core monitor.Core) {
		core.WaitForStart(ctx)
		cfg := core.Config()

		proc, err := process.NewProcess(int32(cfg.PID))
		if err != nil {
			core.Logger().Error("commit sampler: resolving process", slog.Int("pid", cfg.PID), slog.Any("error", err))
			return
		}

		interval := time.Duration(cfg.ThresholdSeconds) * time.Second
		for core.ContinueMonitoring() {
			if core.WaitForQuit(interval) != monitor.StatusTimeout {
				return
			}
			info, err := proc.MemoryInfoWithContext(ctx)
			if err != nil {
				core.Logger().Debug("commit sampler: sample failed", slog.Any("error", err))
				continue
			}
			mib := info.RSS / (1024 * 1024)
			if commitTriggered(mib, cfg) {
				triggerDump(ctx, core, invoker, "commit")
			}
		}
	}
}

func commitTriggered(mib uint64, cfg *procopts.Config) bool {
	threshold := uint64(cfg.CommitThresholdMiB)
	if cfg.CommitDirection == procopts.DirGE {
		return mib >= threshold
	}
	return mib < threshold
}

// NewTimerSampler returns a SamplerFunc that dumps unconditionally every
// cfg.ThresholdSeconds, for the timer-only configuration (spec §3:
// "timer-only flag (derived: true iff neither CPU nor commit is set but a
// dump count is)").
func NewTimerSampler(invoker monitor.DumpInvoker) monitor.SamplerFunc {
	return func(ctx context.Context, core monitor.Core) {
		core.WaitForStart(ctx)
		cfg := core.Config()
		interval := time.Duration(cfg.ThresholdSeconds) * time.Second

		for core.ContinueMonitoring() {
			if core.WaitForQuit(interval) != monitor.StatusTimeout {
				return
			}
			triggerDump(ctx, core, invoker, fmt.Sprintf("timer-%ds", cfg.ThresholdSeconds))
		}
	}
}
