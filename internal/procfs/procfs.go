// Package procfs resolves and probes Linux processes through /proc. It
// implements process discovery: PID↔name resolution, a liveness probe for
// the monitor's continue_monitoring predicate, and the busy-scan used to
// wait for a named process to appear.
package procfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// ErrTargetNotFound is the "no such process" condition for a PID target;
// procopts.Validate wraps it when LookupByPID reports a -p PID missing.
// WaitForName never returns it. It is kept as a sentinel (rather than an
// ad-hoc string) so callers can use errors.Is the same way the pack's proc
// package does for its own sentinel set.
var ErrTargetNotFound = errors.New("procfs: no such process; try elevated privileges")

// ErrAmbiguousTarget is returned by WaitForName when a single scan observes
// two or more processes whose resolved name matches the requested target.
var ErrAmbiguousTarget = errors.New("procfs: more than one matching process")

// procRoot is overridable in tests so they can point at a synthetic /proc
// tree instead of the real kernel filesystem.
var procRoot = "/proc"

// LookupByPID reports whether pid has a readable /proc/<pid> directory.
func LookupByPID(pid int) (bool, error) {
	dir := filepath.Join(procRoot, strconv.Itoa(pid))
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return false, nil
		}
		return false, fmt.Errorf("procfs: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return false, nil
	}
	f, err := os.Open(dir)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return false, nil
		}
		return false, fmt.Errorf("procfs: open %s: %w", dir, err)
	}
	f.Close()
	return true, nil
}

// ReadProcessName reads /proc/<pid>/cmdline and extracts the executable
// name. The argv vector is NUL-separated; the rule is: take the first
// non-empty element, skip over a leading "sudo", then strip any directory
// prefix. It returns ok=false if the file cannot be read or is empty.
func ReadProcessName(pid int) (name string, ok bool) {
	path := filepath.Join(procRoot, strconv.Itoa(pid), "cmdline")
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return nameFromCmdline(raw)
}

// nameFromCmdline applies the PID-name rule to a raw NUL-separated cmdline
// buffer, isolated from file I/O so it can be unit tested directly.
func nameFromCmdline(raw []byte) (string, bool) {
	args := splitArgv(raw)
	for len(args) > 0 && args[0] == "" {
		args = args[1:]
	}
	if len(args) == 0 {
		return "", false
	}
	first := args[0]
	if first == "sudo" && len(args) > 1 {
		first = args[1]
	}
	if idx := strings.LastIndexByte(first, '/'); idx >= 0 {
		first = first[idx+1:]
	}
	if first == "" {
		return "", false
	}
	return first, true
}

// splitArgv splits a NUL-separated cmdline buffer into its component
// arguments, discarding every trailing NUL (the kernel terminates the
// last argument with one).
func splitArgv(raw []byte) []string {
	trimmed := strings.TrimRight(string(raw), "\x00")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\x00")
}

// Alive performs a signal-0 probe against pid: the kernel runs its usual
// permission checks but delivers nothing. A nil error means the process
// exists and is visible to the caller; any error (ESRCH, EPERM, ...) is
// treated as "not alive" for the monitor's liveness predicate, since the
// contract only distinguishes alive from not.
func Alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// Scanner enumerates candidate PIDs from /proc in a stable order, so that
// "first match wins, second match fails" is reproducible across scans.
type Scanner struct{}

// Scan returns the PIDs of every numeric entry under /proc, sorted
// numerically (so 2 comes before 10), which makes the order deterministic
// across scans.
func (Scanner) Scan() ([]int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("procfs: read %s: %w", procRoot, err)
	}

	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue // not a numeric entry — skip sockets, self, etc.
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// MatchName scans /proc once and returns the PIDs whose resolved process
// name equals name. The scan order is whatever Scanner.Scan returns
// (numerically stable), so repeated scans over an unchanged process table
// always enumerate matches in the same order.
func MatchName(name string) ([]int, error) {
	pids, err := (Scanner{}).Scan()
	if err != nil {
		return nil, err
	}

	var matches []int
	for _, pid := range pids {
		got, ok := ReadProcessName(pid)
		if !ok {
			continue
		}
		if got == name {
			matches = append(matches, pid)
		}
	}
	return matches, nil
}
