package monitor_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gocoredump/procdump/internal/monitor"
	"github.com/gocoredump/procdump/internal/syncutil"
)

func TestSignalCoordinatorRequestsQuitOnSIGINT(t *testing.T) {
	mon := monitor.New(aliveConfig(5), nil, nil)
	coord := monitor.NewSignalCoordinator(mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("kill self SIGINT: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SignalCoordinator.Run did not return after SIGINT")
	}

	if mon.Mutable().QuitCount() == 0 {
		t.Fatal("quit counter was not incremented after SIGINT")
	}
	if mon.QuitEvent().Wait(0) != syncutil.Signaled {
		t.Fatal("quit event was not signaled after SIGINT")
	}
}

func TestSignalCoordinatorCancelledByContext(t *testing.T) {
	mon := monitor.New(aliveConfig(5), nil, nil)
	coord := monitor.NewSignalCoordinator(mon)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SignalCoordinator.Run did not return after context cancellation")
	}

	if mon.Mutable().QuitCount() != 0 {
		t.Fatal("quit counter was incremented despite no signal being sent")
	}
}
