// Package procopts provides CLI option parsing, validation, and the sealed
// configuration record consumed by the monitor controller. Parsing follows
// the same "parse flat input, apply defaults, validate, join every error"
// pipeline the teacher's YAML config loader uses, adapted to a flag-based
// grammar; an optional YAML defaults file may additionally be layered
// underneath the command line.
package procopts

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/gocoredump/procdump/internal/procfs"
)

// Direction is the comparison a CPU or commit threshold triggers on.
type Direction string

const (
	// DirGE triggers when the sampled value is greater than or equal to
	// the configured threshold ("-C", "-M").
	DirGE Direction = "ge"
	// DirLT triggers when the sampled value is less than the configured
	// threshold ("-c", "-m").
	DirLT Direction = "lt"
)

// disabled is the sentinel threshold value stored on Config when a trigger
// is not configured. It is math.MinInt rather than spec §3's literal -1: -1
// is a structurally valid (if out-of-range) int an operator could type on
// the command line, so a sentinel that overlaps the input domain lets a
// rejectable value like "-c -1" silently alias "disabled" instead of
// failing validation. math.MinInt is never a value flag.IntVar could hand
// back from a threshold an operator meant to set, so the two can never be
// confused. Validate never compares against this constant directly — it
// gates on the explicit cpuEnabled/memEnabled booleans instead, and only
// stores disabled in Config.CPUThreshold/CommitThresholdMiB when the
// matching trigger is not enabled.
const disabled = math.MinInt

// defaultThresholdSeconds is used when -s/--time-between-dumps is omitted.
const defaultThresholdSeconds = 10

// Config is the sealed configuration record produced by Validate. Only the
// counters in Mutable change after monitoring begins; every other field is
// read-only once Validate returns (spec §3 invariant I4).
type Config struct {
	// PID is the numeric target PID. Zero means the target was named
	// instead (ProcessName is authoritative in that case).
	PID int
	// ProcessName is the name supplied via -w. It is also the field the
	// monitor fills in once it resolves a PID-form target's own name.
	ProcessName string
	// PIDGiven and NameGiven are mutually exclusive (spec §3 invariant
	// I3: exactly one of PID-given or name-given).
	PIDGiven  bool
	NameGiven bool

	// CPUThreshold is a percentage in [0, 100*NumCPU]. Only meaningful when
	// CPUEnabled is true; otherwise it holds the disabled sentinel and
	// must not be compared against directly.
	CPUThreshold int
	CPUDirection Direction
	// CPUEnabled reports whether -C/-c was given. Callers (including
	// cmd/procdump's sampler registration) must gate on this field, never
	// on CPUThreshold's value, so an out-of-range threshold can never be
	// mistaken for "not configured".
	CPUEnabled bool
	// CommitThresholdMiB is a resident/committed memory threshold in MiB.
	// Only meaningful when CommitEnabled is true.
	CommitThresholdMiB int
	CommitDirection    Direction
	// CommitEnabled reports whether -M/-m was given; see CPUEnabled.
	CommitEnabled bool

	// TimerOnly is derived: true iff neither threshold is enabled, so
	// dumps are taken purely on the -s interval (spec §3).
	TimerOnly bool

	// ThresholdSeconds is the consecutive sampling window a trigger must
	// hold before it fires. Always >= 1.
	ThresholdSeconds int
	// DumpsToCollect is the target dump count ("-n"). May be zero (spec
	// §9 OQ2: collect no dumps, run initialization only, then exit).
	DumpsToCollect int

	// Diagnostics enables verbose (debug-level) logging.
	Diagnostics bool

	// NumCPU is the online processor count queried at parse time, used
	// to bound CPUThreshold.
	NumCPU int

	// OutputDir is where the dump collaborator writes core files. Ambient
	// operational plumbing, not part of spec §6's CLI grammar — the same
	// role the teacher's -queue-path flag plays alongside its YAML config.
	OutputDir string
	// AuditLogPath is where the diagnostic hash-chained ledger is
	// appended. Only opened when Diagnostics is set.
	AuditLogPath string
	// HistoryDBPath is where the dump-metadata SQLite store lives.
	HistoryDBPath string
}

// Mutable holds the handful of fields every goroutine in the monitor may
// write, each under atomic discipline. It is constructed once alongside a
// sealed Config and shared by pointer so every sampler observes the same
// counters (spec §3 State, §5 shared-resource policy).
type Mutable struct {
	dumpsCollected atomic.Int64
	terminated     atomic.Bool
	quitCount      atomic.Int64
	gcorePID       atomic.Int64
}

// DumpsCollected returns the current dumps-collected counter.
func (m *Mutable) DumpsCollected() int64 { return m.dumpsCollected.Load() }

// IncrementDumpsCollected atomically increments the dumps-collected counter
// and returns the new value. Spec §4.G: a sampler increments this after a
// successful dump, before releasing the dump-slot semaphore.
func (m *Mutable) IncrementDumpsCollected() int64 { return m.dumpsCollected.Add(1) }

// Terminated reports whether the target is known to be dead or ambiguous.
func (m *Mutable) Terminated() bool { return m.terminated.Load() }

// SetTerminated marks the target as terminated. It is idempotent and
// one-way: once set, it is never cleared (spec §3 Terminated flag).
func (m *Mutable) SetTerminated() { m.terminated.Store(true) }

// QuitCount returns the current quit counter; nonzero means shutdown has
// been requested at least once.
func (m *Mutable) QuitCount() int64 { return m.quitCount.Load() }

// RequestQuit atomically increments the quit counter and returns the new
// value.
func (m *Mutable) RequestQuit() int64 { return m.quitCount.Add(1) }

// GcorePID returns the PID of the in-flight dump child, or 0 if none.
func (m *Mutable) GcorePID() int64 { return m.gcorePID.Load() }

// SetGcorePID records the PID of the dump child currently in flight. Pass 0
// to clear it once the child exits.
func (m *Mutable) SetGcorePID(pid int64) { m.gcorePID.Store(pid) }

// usage is the text cmd/procdump prints to stdout for -h/--help and to
// stderr on any parse or validation failure, matching spec §6's grammar.
const usage = `usage: procdump [OPTIONS]

  -p, --pid <pid>                  target by PID; must exist
  -C, --cpu <percent>              CPU >= percent triggers a dump
  -c, --lower-cpu <percent>        CPU < percent triggers a dump
  -M, --memory <mib>               commit >= mib triggers a dump
  -m, --lower-mem <mib>            commit < mib triggers a dump
  -n, --number-of-dumps <k>        number of dumps to collect (default 1)
  -s, --time-between-dumps <sec>   consecutive sampling window, seconds
  -w, --wait <name>                wait for a process named <name>
      --defaults <path>            YAML file supplying default values
  -d, --diag                       enable diagnostic logging
      --output-dir <dir>           directory gcore writes dumps into (default ".")
      --audit-log <path>           diagnostic ledger path (only opened with -d)
      --history-db <path>          dump-metadata SQLite store path
  -v, --version                    print version and exit
  -h, --help                       print this message and exit

Exactly one of -p or -w must be given. At most one of -C/-c, and at most
one of -M/-m.
`

// Usage returns the fixed usage text for -h/--help and parse-failure paths.
func Usage() string { return usage }

// Options is the raw set of values the flag.FlagSet binds to before
// Validate turns them into a sealed Config. It is exported so callers (and
// tests) can construct one without going through argv parsing, supporting
// R2 (parsing the same argv twice produces equal configs).
type Options struct {
	PID              int
	CPU              int
	LowerCPU         int
	Memory           int
	LowerMem         int
	NumberOfDumps    int
	TimeBetweenDumps int
	Wait             string
	Diag             bool
	DefaultsPath     string
	Version          bool
	Help             bool
	OutputDir        string
	AuditLogPath     string
	HistoryDBPath    string

	cpuSet    bool
	lowerSet  bool
	memSet    bool
	lowMemSet bool
	pidSet    bool
	numSet    bool
	secSet    bool
}

// NumberOfDumpsWasSet reports whether -n/--number-of-dumps appeared on the
// command line or was supplied by the --defaults file (as opposed to
// taking its default of 1).
func (o *Options) NumberOfDumpsWasSet() bool { return o.numSet }

// defaultsDoc is the shape of the optional --defaults YAML file (spec
// SPEC_FULL §10.3): every field is optional and only fills in a flag the
// operator did not pass on the command line.
type defaultsDoc struct {
	CPU              *int    `yaml:"cpu"`
	LowerCPU         *int    `yaml:"lower_cpu"`
	Memory           *int    `yaml:"memory"`
	LowerMem         *int    `yaml:"lower_mem"`
	NumberOfDumps    *int    `yaml:"number_of_dumps"`
	TimeBetweenDumps *int    `yaml:"time_between_dumps"`
	Wait             *string `yaml:"wait"`
	Diag             *bool   `yaml:"diag"`
}

// discardWriter silences flag.FlagSet's own usage printing; ParseArgs
// reports its own errors wrapped with package context instead.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// ParseArgs parses argv (excluding the program name, as flag.FlagSet
// expects) into Options, then layers an optional --defaults YAML file
// underneath any flag the operator did not set explicitly. It does not
// check cross-field constraints — that is Validate's job.
func ParseArgs(argv []string) (*Options, error) {
	fs := flag.NewFlagSet("procdump", flag.ContinueOnError)
	fs.SetOutput(discardWriter{})

	o := &Options{NumberOfDumps: 1, CPU: disabled, LowerCPU: disabled, Memory: disabled, LowerMem: disabled}

	fs.IntVar(&o.PID, "p", 0, "")
	fs.IntVar(&o.PID, "pid", 0, "")
	fs.IntVar(&o.CPU, "C", disabled, "")
	fs.IntVar(&o.CPU, "cpu", disabled, "")
	fs.IntVar(&o.LowerCPU, "c", disabled, "")
	fs.IntVar(&o.LowerCPU, "lower-cpu", disabled, "")
	fs.IntVar(&o.Memory, "M", disabled, "")
	fs.IntVar(&o.Memory, "memory", disabled, "")
	fs.IntVar(&o.LowerMem, "m", disabled, "")
	fs.IntVar(&o.LowerMem, "lower-mem", disabled, "")
	fs.IntVar(&o.NumberOfDumps, "n", 1, "")
	fs.IntVar(&o.NumberOfDumps, "number-of-dumps", 1, "")
	fs.IntVar(&o.TimeBetweenDumps, "s", 0, "")
	fs.IntVar(&o.TimeBetweenDumps, "time-between-dumps", 0, "")
	fs.StringVar(&o.Wait, "w", "", "")
	fs.StringVar(&o.Wait, "wait", "", "")
	fs.BoolVar(&o.Diag, "d", false, "")
	fs.BoolVar(&o.Diag, "diag", false, "")
	fs.StringVar(&o.DefaultsPath, "defaults", "", "")
	fs.BoolVar(&o.Version, "v", false, "")
	fs.BoolVar(&o.Version, "version", false, "")
	fs.BoolVar(&o.Help, "h", false, "")
	fs.BoolVar(&o.Help, "help", false, "")
	fs.StringVar(&o.OutputDir, "output-dir", ".", "")
	fs.StringVar(&o.AuditLogPath, "audit-log", "procdump-audit.jsonl", "")
	fs.StringVar(&o.HistoryDBPath, "history-db", "procdump-history.db", "")

	if err := fs.Parse(argv); err != nil {
		return nil, fmt.Errorf("procopts: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p", "pid":
			o.pidSet = true
		case "C", "cpu":
			o.cpuSet = true
		case "c", "lower-cpu":
			o.lowerSet = true
		case "M", "memory":
			o.memSet = true
		case "m", "lower-mem":
			o.lowMemSet = true
		case "n", "number-of-dumps":
			o.numSet = true
		case "s", "time-between-dumps":
			o.secSet = true
		}
	})

	if o.DefaultsPath != "" {
		if err := applyDefaultsFile(o, o.DefaultsPath); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// applyDefaultsFile loads the YAML defaults document at path and fills in
// any Options field the operator did not set explicitly on the command
// line (tracked via fs.Visit in ParseArgs). CLI flags always win.
func applyDefaultsFile(o *Options, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("procopts: read defaults %q: %w", path, err)
	}
	var doc defaultsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("procopts: parse defaults %q: %w", path, err)
	}

	if doc.CPU != nil && !o.cpuSet {
		o.CPU, o.cpuSet = *doc.CPU, true
	}
	if doc.LowerCPU != nil && !o.lowerSet {
		o.LowerCPU, o.lowerSet = *doc.LowerCPU, true
	}
	if doc.Memory != nil && !o.memSet {
		o.Memory, o.memSet = *doc.Memory, true
	}
	if doc.LowerMem != nil && !o.lowMemSet {
		o.LowerMem, o.lowMemSet = *doc.LowerMem, true
	}
	if doc.NumberOfDumps != nil && !o.numSet {
		o.NumberOfDumps, o.numSet = *doc.NumberOfDumps, true
	}
	if doc.TimeBetweenDumps != nil && !o.secSet {
		o.TimeBetweenDumps, o.secSet = *doc.TimeBetweenDumps, true
	}
	if doc.Wait != nil && o.Wait == "" {
		o.Wait = *doc.Wait
	}
	if doc.Diag != nil && !o.Diag {
		o.Diag = *doc.Diag
	}
	return nil
}

// lookupPID is overridable in tests; it defaults to checking /proc.
var lookupPID = defaultLookupPID

// Validate turns a parsed Options into a sealed Config, applying every rule
// in spec §4.C. numCPU is injected rather than queried internally so tests
// can exercise boundary conditions (B1, B6) deterministically.
func Validate(o *Options, numCPU int) (*Config, error) {
	var errs []error

	if o.cpuSet && o.lowerSet {
		errs = append(errs, errors.New("at most one of -C/--cpu and -c/--lower-cpu may be set"))
	}
	if o.memSet && o.lowMemSet {
		errs = append(errs, errors.New("at most one of -M/--memory and -m/--lower-mem may be set"))
	}
	if o.pidSet && o.Wait != "" {
		errs = append(errs, errors.New("exactly one of -p/--pid and -w/--wait may be given"))
	}
	if !o.pidSet && o.Wait == "" {
		errs = append(errs, errors.New("exactly one of -p/--pid and -w/--wait must be given"))
	}

	// cpuEnabled/memEnabled are driven entirely by which flags the operator
	// set (fs.Visit in ParseArgs), never by a threshold's numeric value.
	// This is deliberate: a disabled sentinel that instead hinged on "does
	// the threshold look unset" could alias a legal-looking but
	// out-of-range value like -1, letting it skip validation instead of
	// being rejected.
	maxCPU := 100 * numCPU
	cpuEnabled := o.cpuSet || o.lowerSet
	cpuThreshold, cpuDir := disabled, DirGE
	if o.cpuSet {
		cpuThreshold, cpuDir = o.CPU, DirGE
	} else if o.lowerSet {
		cpuThreshold, cpuDir = o.LowerCPU, DirLT
	}
	if cpuEnabled && (cpuThreshold < 0 || cpuThreshold > maxCPU) {
		errs = append(errs, fmt.Errorf("CPU threshold %d out of range [0, %d]", cpuThreshold, maxCPU))
	}

	memEnabled := o.memSet || o.lowMemSet
	memThreshold, memDir := disabled, DirGE
	if o.memSet {
		memThreshold, memDir = o.Memory, DirGE
	} else if o.lowMemSet {
		memThreshold, memDir = o.LowerMem, DirLT
	}
	if memEnabled && memThreshold < 0 {
		errs = append(errs, fmt.Errorf("memory threshold %d must be >= 0", memThreshold))
	}

	if o.numSet && o.NumberOfDumps < 0 {
		errs = append(errs, fmt.Errorf("number of dumps %d must be >= 0", o.NumberOfDumps))
	}

	thresholdSeconds := defaultThresholdSeconds
	if o.secSet {
		thresholdSeconds = o.TimeBetweenDumps
		if thresholdSeconds <= 0 {
			errs = append(errs, fmt.Errorf("time between dumps %d must be > 0", thresholdSeconds))
		}
	}

	if o.pidSet && len(errs) == 0 {
		ok, err := lookupPID(o.PID)
		if err != nil {
			errs = append(errs, fmt.Errorf("checking PID %d: %w", o.PID, err))
		} else if !ok {
			errs = append(errs, fmt.Errorf("PID %d does not exist: %w", o.PID, procfs.ErrTargetNotFound))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("procopts: validation failed: %w", err)
	}

	cfg := &Config{
		PID:                o.PID,
		ProcessName:        o.Wait,
		PIDGiven:           o.pidSet,
		NameGiven:          o.Wait != "",
		CPUThreshold:       cpuThreshold,
		CPUDirection:       cpuDir,
		CPUEnabled:         cpuEnabled,
		CommitThresholdMiB: memThreshold,
		CommitDirection:    memDir,
		CommitEnabled:      memEnabled,
		ThresholdSeconds:   thresholdSeconds,
		DumpsToCollect:     o.NumberOfDumps,
		Diagnostics:        o.Diag,
		NumCPU:             numCPU,
		OutputDir:          o.OutputDir,
		AuditLogPath:       o.AuditLogPath,
		HistoryDBPath:      o.HistoryDBPath,
	}
	cfg.TimerOnly = !cpuEnabled && !memEnabled

	return cfg, nil
}
