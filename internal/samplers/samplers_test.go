package samplers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gocoredump/procdump/internal/monitor"
	"github.com/gocoredump/procdump/internal/procopts"
)

func TestCPUTriggeredGE(t *testing.T) {
	cfg := &procopts.Config{CPUThreshold: 50, CPUDirection: procopts.DirGE}
	if !cpuTriggered(50, cfg) {
		t.Fatal("cpuTriggered(50) with threshold 50/ge = false, want true")
	}
	if cpuTriggered(49.9, cfg) {
		t.Fatal("cpuTriggered(49.9) with threshold 50/ge = true, want false")
	}
}

func TestCPUTriggeredLT(t *testing.T) {
	cfg := &procopts.Config{CPUThreshold: 10, CPUDirection: procopts.DirLT}
	if !cpuTriggered(5, cfg) {
		t.Fatal("cpuTriggered(5) with threshold 10/lt = false, want true")
	}
	if cpuTriggered(10, cfg) {
		t.Fatal("cpuTriggered(10) with threshold 10/lt = true, want false")
	}
}

func TestCommitTriggeredGE(t *testing.T) {
	cfg := &procopts.Config{CommitThresholdMiB: 100, CommitDirection: procopts.DirGE}
	if !commitTriggered(100, cfg) {
		t.Fatal("commitTriggered(100) with threshold 100/ge = false, want true")
	}
	if commitTriggered(99, cfg) {
		t.Fatal("commitTriggered(99) with threshold 100/ge = true, want false")
	}
}

func TestCommitTriggeredLT(t *testing.T) {
	cfg := &procopts.Config{CommitThresholdMiB: 100, CommitDirection: procopts.DirLT}
	if !commitTriggered(50, cfg) {
		t.Fatal("commitTriggered(50) with threshold 100/lt = false, want true")
	}
	if commitTriggered(100, cfg) {
		t.Fatal("commitTriggered(100) with threshold 100/lt = true, want false")
	}
}

// fakeInvoker records every Invoke call and never actually spawns gcore.
type fakeInvoker struct {
	calls int
	err   error
}

func (f *fakeInvoker) Invoke(ctx context.Context, pid int, reason string, pidReady func(childPID int)) error {
	f.calls++
	if pidReady != nil {
		pidReady(99999)
	}
	return f.err
}

func TestTriggerDumpRecordsOnSuccess(t *testing.T) {
	cfg := &procopts.Config{PID: os.Getpid(), DumpsToCollect: 5, ThresholdSeconds: 1, NumCPU: 1}
	mon := monitor.New(cfg, nil, nil)
	inv := &fakeInvoker{}

	triggerDump(context.Background(), mon, inv, "cpu")

	if inv.calls != 1 {
		t.Fatalf("Invoke called %d times, want 1", inv.calls)
	}
	if mon.Mutable().DumpsCollected() != 1 {
		t.Fatalf("DumpsCollected = %d, want 1", mon.Mutable().DumpsCollected())
	}
	if mon.Mutable().GcorePID() != 0 {
		t.Fatalf("GcorePID = %d after completion, want 0 (cleared)", mon.Mutable().GcorePID())
	}
}

func TestTriggerDumpDoesNotRecordOnFailure(t *testing.T) {
	cfg := &procopts.Config{PID: os.Getpid(), DumpsToCollect: 5, ThresholdSeconds: 1, NumCPU: 1}
	mon := monitor.New(cfg, nil, nil)
	inv := &fakeInvoker{err: context.DeadlineExceeded}

	triggerDump(context.Background(), mon, inv, "cpu")

	if mon.Mutable().DumpsCollected() != 0 {
		t.Fatalf("DumpsCollected = %d after failed invoke, want 0", mon.Mutable().DumpsCollected())
	}
}

func TestTimerSamplerExitsWhenLimitReached(t *testing.T) {
	// DumpsToCollect 0 means ContinueMonitoring is false from the start,
	// so the timer sampler must return immediately without dumping.
	cfg := &procopts.Config{PID: os.Getpid(), DumpsToCollect: 0, ThresholdSeconds: 1, NumCPU: 1}
	mon := monitor.New(cfg, nil, nil)
	inv := &fakeInvoker{}

	sampler := NewTimerSampler(inv)
	mon.StartMonitoring()

	done := make(chan struct{})
	go func() {
		sampler(context.Background(), mon)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer sampler did not exit when dumps-to-collect was already 0")
	}

	if inv.calls != 0 {
		t.Fatalf("Invoke called %d times, want 0", inv.calls)
	}
}
