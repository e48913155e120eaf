// Package monitor implements the core control plane: it wires the
// configuration, process discovery, signal handling, and synchronization
// primitives into a running monitor, and defines the contract samplers use
// to cooperate with it (spec §4.F, §4.G).
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gocoredump/procdump/internal/procfs"
	"github.com/gocoredump/procdump/internal/procopts"
	"github.com/gocoredump/procdump/internal/syncutil"
)

// WaitStatus is the result of a sampler's wait on the quit event, an
// arbitrary event, or both.
type WaitStatus int

const (
	// StatusQuit means the quit event signaled.
	StatusQuit WaitStatus = iota
	// StatusEvent means the caller-supplied event signaled (only returned
	// by WaitForQuitOrEvent).
	StatusEvent
	// StatusTimeout means neither signaled before the deadline.
	StatusTimeout
	// StatusAbandoned means ContinueMonitoring became false; the caller
	// must stop sampling regardless of which event fired.
	StatusAbandoned
)

// Core is the contract a trigger-sampler goroutine is spawned with. The
// three concrete trigger loops (CPU, commit, timer) are external
// collaborators per spec §1; Core is all any of them needs to cooperate
// with the monitor.
type Core interface {
	// WaitForStart blocks until the controller signals the
	// "start-monitoring" latch, so every sampler's first comparison
	// reads a cold-start-synchronized sample (spec §5 ordering).
	WaitForStart(ctx context.Context)
	// ContinueMonitoring reports whether the caller should keep sampling:
	// dumps-collected < dumps-to-collect, terminated is false, and the
	// target answers a liveness probe (spec §4.F).
	ContinueMonitoring() bool
	// WaitForQuit blocks until the quit event signals or timeout elapses,
	// checking ContinueMonitoring before the wait and again on timeout.
	WaitForQuit(timeout time.Duration) WaitStatus
	// WaitForQuitOrEvent is WaitForQuit plus a second latch; quit wins
	// ties (spec §4.F).
	WaitForQuitOrEvent(event *syncutil.ManualResetEvent, timeout time.Duration) WaitStatus
	// AcquireDumpSlot blocks until the single dump slot is free.
	AcquireDumpSlot(ctx context.Context) error
	// ReleaseDumpSlot returns the dump slot.
	ReleaseDumpSlot()
	// RecordDump increments the dumps-collected counter. Callers must
	// call it after a successful dump and before ReleaseDumpSlot (spec
	// §4.G).
	RecordDump()
	// Config returns the sealed configuration record.
	Config() *procopts.Config
	// Mutable returns the shared mutable counters, so a sampler can
	// publish the dump child's PID for the signal coordinator to reap.
	Mutable() *procopts.Mutable
	// Logger returns the process-wide structured logger.
	Logger() *slog.Logger
}

// Monitor is the concrete implementation of Core, and the object the
// controller spawns samplers and the signal coordinator against.
type Monitor struct {
	cfg     *procopts.Config
	mutable *procopts.Mutable
	logger  *slog.Logger

	quit        *syncutil.ManualResetEvent
	initDone    *syncutil.ManualResetEvent
	bannerDone  *syncutil.ManualResetEvent
	configDone  *syncutil.ManualResetEvent
	startLatch  *syncutil.ManualResetEvent
	dumpSlot    *syncutil.Semaphore
	initOnce    sync.Once
	dumpInvoker DumpInvoker
}

// New constructs a Monitor around a sealed configuration. The returned
// Monitor is not yet initialized; call Init once before spawning any
// sampler (spec §4.D: initialization is idempotent and process-wide — Go's
// sync.Once gives us that directly for the one-shot gate, while the four
// named print/start latches stay as explicit ManualResetEvents per spec §3
// because each is independently observed and signaled).
func New(cfg *procopts.Config, logger *slog.Logger, invoker DumpInvoker) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:         cfg,
		mutable:     &procopts.Mutable{},
		logger:      logger,
		quit:        syncutil.NewManualResetEvent(),
		initDone:    syncutil.NewManualResetEvent(),
		bannerDone:  syncutil.NewManualResetEvent(),
		configDone:  syncutil.NewManualResetEvent(),
		startLatch:  syncutil.NewManualResetEvent(),
		dumpSlot:    syncutil.NewSemaphore(1),
		dumpInvoker: invoker,
	}
}

// Init performs the one-shot process-wide initialization: it is safe to
// call from multiple goroutines and from the same goroutine repeatedly —
// only the first call has an effect (spec §4.D, R1).
func (m *Monitor) Init() {
	m.initOnce.Do(func() {
		m.logger.Debug("monitor initialized",
			slog.Int("num_cpu", m.cfg.NumCPU),
			slog.Int("threshold_seconds", m.cfg.ThresholdSeconds),
		)
		m.initDone.Signal()
	})
}

// PrintBanner prints the startup banner exactly once per process lifetime
// (spec §4.D, P5): it is a zero-timeout check-and-signal on bannerDone,
// matching the print-once gate pattern spec §4.D describes.
func (m *Monitor) PrintBanner(print func()) bool {
	return printOnce(m.bannerDone, print)
}

// PrintConfig prints the resolved configuration exactly once per process
// lifetime, using the same print-once gate pattern as PrintBanner.
func (m *Monitor) PrintConfig(print func()) bool {
	return printOnce(m.configDone, print)
}

// printOnce attempts a zero-timeout wait on gate; if it is not yet set,
// print runs and the gate is signaled, returning true. If it is already
// set, print does not run and printOnce returns false.
func printOnce(gate *syncutil.ManualResetEvent, print func()) bool {
	if gate.Wait(0) == syncutil.Signaled {
		return false
	}
	print()
	gate.Signal()
	return true
}

// StartMonitoring signals the "start-monitoring" latch; samplers block on
// it in their prologue so cold-start reads are synchronized (spec §4.F
// step 6, §5 ordering).
func (m *Monitor) StartMonitoring() {
	m.startLatch.Signal()
}

// WaitForStart blocks until StartMonitoring has been called. Samplers call
// this once, before their first sample.
func (m *Monitor) WaitForStart(ctx context.Context) {
	for {
		if m.startLatch.Wait(50 * time.Millisecond) == syncutil.Signaled {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Config implements Core.
func (m *Monitor) Config() *procopts.Config { return m.cfg }

// Logger implements Core.
func (m *Monitor) Logger() *slog.Logger { return m.logger }

// DumpInvoker returns the dump collaborator this Monitor was constructed
// with.
func (m *Monitor) DumpInvoker() DumpInvoker { return m.dumpInvoker }

// Mutable exposes the shared mutable counters so the controller and signal
// coordinator can update terminated/quit/gcore-pid (spec §5 shared-resource
// policy restricts mutation to these collaborators).
func (m *Monitor) Mutable() *procopts.Mutable { return m.mutable }

// QuitEvent exposes the quit latch for the signal coordinator and for
// WaitAny-based multi-wait composition.
func (m *Monitor) QuitEvent() *syncutil.ManualResetEvent { return m.quit }

// RequestQuit sets the quit counter and signals the quit event. It is the
// single path by which an external actor (signal coordinator, or a fatal
// sampler per §7) asks every sampler to stop.
func (m *Monitor) RequestQuit() {
	m.mutable.RequestQuit()
	m.quit.Signal()
}

// ContinueMonitoring implements Core (spec §4.F).
func (m *Monitor) ContinueMonitoring() bool {
	if m.mutable.DumpsCollected() >= int64(m.cfg.DumpsToCollect) {
		return false
	}
	if m.mutable.Terminated() {
		return false
	}
	if !m.probeAlive() {
		m.mutable.SetTerminated()
		return false
	}
	return true
}

// probeAlive performs the signal-0 liveness probe on the configured target
// PID (spec §4.G). A PID of 0 (not yet resolved) reports not alive; no
// name-based re-resolution is attempted here.
func (m *Monitor) probeAlive() bool {
	pid := m.cfg.PID
	if pid == 0 {
		return false
	}
	return procfs.Alive(pid)
}

// WaitForQuit implements Core.
func (m *Monitor) WaitForQuit(timeout time.Duration) WaitStatus {
	if !m.ContinueMonitoring() {
		return StatusAbandoned
	}
	switch m.quit.Wait(timeout) {
	case syncutil.Signaled:
		return StatusQuit
	default:
		if !m.ContinueMonitoring() {
			return StatusAbandoned
		}
		return StatusTimeout
	}
}

// WaitForQuitOrEvent implements Core.
func (m *Monitor) WaitForQuitOrEvent(event *syncutil.ManualResetEvent, timeout time.Duration) WaitStatus {
	if !m.ContinueMonitoring() {
		return StatusAbandoned
	}
	idx, result := syncutil.WaitAny([]*syncutil.ManualResetEvent{m.quit, event}, timeout)
	switch result {
	case syncutil.Signaled:
		if !m.ContinueMonitoring() {
			return StatusAbandoned
		}
		if idx == 0 {
			return StatusQuit
		}
		return StatusEvent
	default:
		if !m.ContinueMonitoring() {
			return StatusAbandoned
		}
		return StatusTimeout
	}
}

// AcquireDumpSlot implements Core.
func (m *Monitor) AcquireDumpSlot(ctx context.Context) error {
	return m.dumpSlot.Acquire(ctx)
}

// ReleaseDumpSlot implements Core.
func (m *Monitor) ReleaseDumpSlot() { m.dumpSlot.Release() }

// RecordDump implements Core.
func (m *Monitor) RecordDump() { m.mutable.IncrementDumpsCollected() }

// Teardown logs the shutdown with the final dumps-collected and
// terminated values, matching the teacher's Agent.Stop() logging-on-exit
// convention. It does not clear or invalidate the events, the semaphore or
// the configuration; Go's garbage collector reclaims them once the Monitor
// is unreachable.
func (m *Monitor) Teardown() {
	m.logger.Info("monitor stopped",
		slog.Int64("dumps_collected", m.mutable.DumpsCollected()),
		slog.Bool("terminated", m.mutable.Terminated()),
	)
}

// ResolveTarget fills in whichever of PID/ProcessName the configuration is
// still missing: a name-form config resolves its PID via WaitForName, and a
// PID-form config resolves its own process name via procfs into
// cfg.ProcessName (spec §4.F steps 2-3). The dump history rows written by
// cmd/procdump do not carry this name; their process_name stays empty.
func (m *Monitor) ResolveTarget(ctx context.Context) error {
	if m.cfg.NameGiven {
		pid, err := procfs.WaitForName(ctx, m.cfg.ProcessName)
		if err != nil {
			m.mutable.SetTerminated()
			return fmt.Errorf("monitor: resolving %q: %w", m.cfg.ProcessName, err)
		}
		m.cfg.PID = pid
		return nil
	}
	if name, ok := procfs.ReadProcessName(m.cfg.PID); ok {
		m.cfg.ProcessName = name
	}
	return nil
}
