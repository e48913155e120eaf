package procopts_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocoredump/procdump/internal/procfs"
	"github.com/gocoredump/procdump/internal/procopts"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "defaults-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

func parseAndValidate(t *testing.T, numCPU int, args ...string) (*procopts.Config, error) {
	t.Helper()
	opts, err := procopts.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	return procopts.Validate(opts, numCPU)
}

func TestValidate_PIDTarget(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-p", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.PIDGiven || cfg.PID != 1 {
		t.Errorf("PIDGiven/PID = %v/%d, want true/1", cfg.PIDGiven, cfg.PID)
	}
	if cfg.NameGiven {
		t.Error("NameGiven = true for PID target")
	}
	if cfg.DumpsToCollect != 1 {
		t.Errorf("DumpsToCollect = %d, want default 1", cfg.DumpsToCollect)
	}
	if cfg.ThresholdSeconds != 10 {
		t.Errorf("ThresholdSeconds = %d, want default 10", cfg.ThresholdSeconds)
	}
	if !cfg.TimerOnly {
		t.Error("TimerOnly = false with no thresholds configured")
	}
}

func TestValidate_NameTarget(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-w", "myserver")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.NameGiven || cfg.ProcessName != "myserver" {
		t.Errorf("NameGiven/ProcessName = %v/%q, want true/myserver", cfg.NameGiven, cfg.ProcessName)
	}
	if cfg.PIDGiven {
		t.Error("PIDGiven = true for name target")
	}
}

func TestValidate_NeitherPIDNorWait(t *testing.T) {
	_, err := parseAndValidate(t, 4)
	if err == nil {
		t.Fatal("expected error when neither -p nor -w given")
	}
	if !strings.Contains(err.Error(), "exactly one of") {
		t.Errorf("error %q does not mention the pid/wait constraint", err.Error())
	}
}

func TestValidate_BothPIDAndWait(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-w", "myserver")
	if err == nil {
		t.Fatal("expected error when both -p and -w given")
	}
}

func TestValidate_CPUZeroAccepted(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-p", "1", "-C", "0")
	if err != nil {
		t.Fatalf("unexpected error for -C 0: %v", err)
	}
	if cfg.CPUThreshold != 0 || cfg.CPUDirection != procopts.DirGE {
		t.Errorf("CPUThreshold/CPUDirection = %d/%v, want 0/ge", cfg.CPUThreshold, cfg.CPUDirection)
	}
	if cfg.TimerOnly {
		t.Error("TimerOnly = true with CPU threshold configured")
	}
}

func TestValidate_CPUAboveUpperBoundRejected(t *testing.T) {
	// numCPU=4 => max is 400; 401 must be rejected.
	_, err := parseAndValidate(t, 4, "-p", "1", "-C", "401")
	if err == nil {
		t.Fatal("expected error for CPU threshold above 100*NumCPU")
	}
	if !strings.Contains(err.Error(), "CPU threshold") {
		t.Errorf("error %q does not mention CPU threshold", err.Error())
	}
}

func TestValidate_CPUAtUpperBoundAccepted(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-p", "1", "-C", "400")
	if err != nil {
		t.Fatalf("unexpected error at exact upper bound: %v", err)
	}
	if cfg.CPUThreshold != 400 {
		t.Errorf("CPUThreshold = %d, want 400", cfg.CPUThreshold)
	}
}

func TestValidate_BothCPUDirectionsRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-C", "50", "-c", "10")
	if err == nil {
		t.Fatal("expected error when both -C and -c given")
	}
}

func TestValidate_BothMemoryDirectionsRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-M", "100", "-m", "10")
	if err == nil {
		t.Fatal("expected error when both -M and -m given")
	}
}

func TestValidate_NegativeMemoryRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-M", "-5")
	if err == nil {
		t.Fatal("expected error for negative memory threshold")
	}
}

// TestValidate_LowerCPUNegativeOneRejected guards against the disabled
// sentinel aliasing a legal-looking but out-of-range -c value: -1 must be
// rejected by the range check, not silently treated as "CPU trigger not
// configured".
func TestValidate_LowerCPUNegativeOneRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-c", "-1")
	if err == nil {
		t.Fatal("expected error for -c -1 (out of range, not a disable sentinel)")
	}
	if !strings.Contains(err.Error(), "CPU threshold") {
		t.Errorf("error %q does not mention CPU threshold", err.Error())
	}
}

// TestValidate_LowerMemNegativeOneRejected is the -m analogue of
// TestValidate_LowerCPUNegativeOneRejected.
func TestValidate_LowerMemNegativeOneRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-m", "-1")
	if err == nil {
		t.Fatal("expected error for -m -1 (out of range, not a disable sentinel)")
	}
	if !strings.Contains(err.Error(), "memory threshold") {
		t.Errorf("error %q does not mention memory threshold", err.Error())
	}
}

func TestValidate_CPUEnabledAndCommitEnabledFlags(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-p", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CPUEnabled || cfg.CommitEnabled {
		t.Errorf("CPUEnabled/CommitEnabled = %v/%v with no thresholds given, want false/false", cfg.CPUEnabled, cfg.CommitEnabled)
	}

	cfg, err = parseAndValidate(t, 4, "-p", "1", "-c", "10", "-m", "20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.CPUEnabled || !cfg.CommitEnabled {
		t.Errorf("CPUEnabled/CommitEnabled = %v/%v with -c/-m given, want true/true", cfg.CPUEnabled, cfg.CommitEnabled)
	}
	if cfg.TimerOnly {
		t.Error("TimerOnly = true with both thresholds enabled")
	}
}

func TestValidate_ThresholdSecondsZeroRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-s", "0")
	if err == nil {
		t.Fatal("expected error for -s 0")
	}
	if !strings.Contains(err.Error(), "time between dumps") {
		t.Errorf("error %q does not mention time between dumps", err.Error())
	}
}

func TestValidate_ThresholdSecondsOneAccepted(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-p", "1", "-s", "1")
	if err != nil {
		t.Fatalf("unexpected error for -s 1: %v", err)
	}
	if cfg.ThresholdSeconds != 1 {
		t.Errorf("ThresholdSeconds = %d, want 1", cfg.ThresholdSeconds)
	}
}

func TestValidate_NumberOfDumpsZeroAccepted(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-p", "1", "-n", "0")
	if err != nil {
		t.Fatalf("unexpected error for -n 0: %v", err)
	}
	if cfg.DumpsToCollect != 0 {
		t.Errorf("DumpsToCollect = %d, want 0", cfg.DumpsToCollect)
	}
}

func TestValidate_NegativeNumberOfDumpsRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "1", "-n", "-1")
	if err == nil {
		t.Fatal("expected error for negative number of dumps")
	}
}

func TestValidate_NonexistentPIDRejected(t *testing.T) {
	_, err := parseAndValidate(t, 4, "-p", "999999999")
	if err == nil {
		t.Fatal("expected error for a PID that does not exist")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("error %q does not mention nonexistent PID", err.Error())
	}
	if !errors.Is(err, procfs.ErrTargetNotFound) {
		t.Errorf("error %v does not wrap procfs.ErrTargetNotFound", err)
	}
}

func TestValidate_DiagnosticsFlag(t *testing.T) {
	cfg, err := parseAndValidate(t, 4, "-p", "1", "-d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Diagnostics {
		t.Error("Diagnostics = false with -d given")
	}
}

func TestParseArgs_DefaultsFileFillsUnsetFlags(t *testing.T) {
	path := writeTemp(t, "cpu: 55\nnumber_of_dumps: 3\n")
	opts, err := procopts.ParseArgs([]string{"-p", "1", "--defaults", path})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	cfg, err := procopts.Validate(opts, 4)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.CPUThreshold != 55 {
		t.Errorf("CPUThreshold = %d, want 55 from defaults file", cfg.CPUThreshold)
	}
	if cfg.DumpsToCollect != 3 {
		t.Errorf("DumpsToCollect = %d, want 3 from defaults file", cfg.DumpsToCollect)
	}
}

func TestParseArgs_CLIOverridesDefaultsFile(t *testing.T) {
	path := writeTemp(t, "cpu: 55\n")
	opts, err := procopts.ParseArgs([]string{"-p", "1", "-C", "20", "--defaults", path})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	cfg, err := procopts.Validate(opts, 4)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.CPUThreshold != 20 {
		t.Errorf("CPUThreshold = %d, want 20 (CLI must win over defaults file)", cfg.CPUThreshold)
	}
}

func TestParseArgs_DefaultsFileNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := procopts.ParseArgs([]string{"-p", "1", "--defaults", missing})
	if err == nil {
		t.Fatal("expected error for missing defaults file")
	}
}

func TestMutable_DumpCounters(t *testing.T) {
	var m procopts.Mutable
	if m.DumpsCollected() != 0 {
		t.Fatalf("initial DumpsCollected = %d, want 0", m.DumpsCollected())
	}
	if got := m.IncrementDumpsCollected(); got != 1 {
		t.Fatalf("IncrementDumpsCollected = %d, want 1", got)
	}
	if m.Terminated() {
		t.Fatal("Terminated = true before SetTerminated")
	}
	m.SetTerminated()
	if !m.Terminated() {
		t.Fatal("Terminated = false after SetTerminated")
	}
	if m.QuitCount() != 0 {
		t.Fatalf("initial QuitCount = %d, want 0", m.QuitCount())
	}
	m.RequestQuit()
	if m.QuitCount() != 1 {
		t.Fatalf("QuitCount after RequestQuit = %d, want 1", m.QuitCount())
	}
	m.SetGcorePID(4242)
	if m.GcorePID() != 4242 {
		t.Fatalf("GcorePID = %d, want 4242", m.GcorePID())
	}
}
