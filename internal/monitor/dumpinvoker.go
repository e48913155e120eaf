package monitor

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
)

// DumpInvoker is the out-of-scope dump-collaborator contract (spec §1,
// §4.E: "if a dump child is in flight... send KILL to the process group of
// that child"). SPEC_FULL §11.H gives the control plane a concrete,
// swappable implementation so the binary runs end-to-end.
type DumpInvoker interface {
	// Invoke spawns a dump of pid, blocking until the child exits or ctx
	// is cancelled. pidReady is called with the child's PID immediately
	// after the child starts, before Invoke blocks on its exit, so the
	// caller can publish gcore-pid into the configuration record.
	Invoke(ctx context.Context, pid int, reason string, pidReady func(childPID int)) error
}

// GcoreInvoker shells out to the gcore(1) utility, the standard Linux
// core-collection tool procdump-for-Linux itself wraps. It is built the
// way provisr's Process.ConfigureCmd configures *exec.Cmd: the child is
// made the leader of its own process group so the signal coordinator can
// reap its descendants with a single KILL to -childPID.
type GcoreInvoker struct {
	// OutputDir is the directory gcore writes its core image to. Empty
	// means the current working directory.
	OutputDir string
}

// Invoke implements DumpInvoker.
func (g GcoreInvoker) Invoke(ctx context.Context, pid int, reason string, pidReady func(childPID int)) error {
	prefix := fmt.Sprintf("%d_%s", pid, reason)
	if g.OutputDir != "" {
		prefix = g.OutputDir + "/" + prefix
	}

	cmd := exec.CommandContext(ctx, "gcore", "-o", prefix, fmt.Sprintf("%d", pid))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("monitor: starting gcore for pid %d: %w", pid, err)
	}
	if pidReady != nil {
		pidReady(cmd.Process.Pid)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("monitor: gcore for pid %d: %w", pid, err)
	}
	return nil
}

// KillProcessGroup sends SIGKILL to the process group led by childPID, the
// action the signal coordinator performs on a pending dump child (spec
// §4.E). Grounded on provisr's Process.Kill, which kills -pid rather than
// pid so the whole subtree is reaped.
func KillProcessGroup(childPID int64) error {
	if childPID == 0 {
		return nil
	}
	return syscall.Kill(-int(childPID), syscall.SIGKILL)
}
