// Package auditlog provides a tamper-evident, append-only log of the
// monitor's own lifecycle events (monitor_started, threshold_crossed,
// dump_invoked, dump_completed, target_lost, quit_received,
// monitor_stopped) — diagnostic infrastructure enabled only when
// -d/--diag is set (spec §3 "Diagnostics flag enables verbose sink").
// This is not the tripwire file/network/process event log the teacher
// repo's audit package served; it keeps the same SHA-256 hash-chain and
// append-only file discipline, repurposed to a single run's monitor
// diagnostics, with the run a given entry belongs to hashed directly into
// the chain rather than buried inside the payload blob.
package auditlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the all-zero SHA-256 hex digest used as the prev_hash of
// the first entry in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event names emitted by the monitor across its lifecycle.
const (
	EventMonitorStarted   = "monitor_started"
	EventThresholdCrossed = "threshold_crossed"
	EventDumpInvoked      = "dump_invoked"
	EventDumpCompleted    = "dump_completed"
	EventTargetLost       = "target_lost"
	EventQuitReceived     = "quit_received"
	EventMonitorStopped   = "monitor_stopped"
)

// entry is the wire format for one audit log line. RunID is a first-class,
// hashed field rather than a value nested inside Payload: every monitor run
// mints its own RunID (see Open), and a log file that outlives several
// runs needs the run boundary itself to be tamper-evident, not just each
// run's own payload content.
type entry struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	EventHash string          `json:"event_hash"`
}

// entryContent is the subset of entry fields hashed to produce EventHash;
// it deliberately excludes EventHash itself.
type entryContent struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
}

// Entry is the public representation of one audit log entry.
type Entry struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	EventHash string          `json:"event_hash"`
}

// Logger is a tamper-evident, append-only audit log writer for a single
// monitor run. Create one with Open; do not copy after first use.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	seq      int64
	runID    uuid.UUID
}

// Open opens (or creates) the log file at path, restoring chain state from
// any existing entries via scanChain, and mints a fresh RunID for this
// process so entries from this run are distinguishable from any run that
// wrote to the same file before it.
func Open(path string) (*Logger, error) {
	prevHash := GenesisHash
	seq := int64(0)

	if _, err := os.Stat(path); err == nil {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("auditlog: open for reading %q: %w", path, err)
		}
		_, restoredHash, restoredSeq, scanErr := scanChain(f)
		f.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("auditlog: restoring chain from %q: %w", path, scanErr)
		}
		prevHash, seq = restoredHash, restoredSeq
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open for appending %q: %w", path, err)
	}

	return &Logger{file: f, prevHash: prevHash, seq: seq, runID: uuid.New()}, nil
}

// RunID returns the UUID minted for this Logger's process lifetime.
func (l *Logger) RunID() uuid.UUID { return l.runID }

// Record appends an event with the given name and detail fields. The
// entry's RunID field (not the payload) carries this run's identity, so
// Verify can report which run produced a given line without the caller
// having to reach into an opaque JSON blob.
func (l *Logger) Record(event string, detail map[string]any) (Entry, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{
		"event":  event,
		"detail": detail,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("auditlog: marshal payload: %w", err)
	}
	return l.append(payload)
}

// append assigns the next sequence number, stamps the entry with this
// Logger's RunID, computes the chained hash, and writes the line.
func (l *Logger) append(payload json.RawMessage) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.seq + 1
	ts := time.Now().UTC()
	prevHash := l.prevHash
	runID := l.runID.String()

	content := entryContent{Seq: seq, Timestamp: ts, RunID: runID, Payload: payload, PrevHash: prevHash}
	eventHash := hashContent(content)

	e := entry{Seq: seq, Timestamp: ts, RunID: runID, Payload: payload, PrevHash: prevHash, EventHash: eventHash}
	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("auditlog: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return Entry{}, fmt.Errorf("auditlog: write entry: %w", err)
	}

	l.seq = seq
	l.prevHash = eventHash

	return Entry{Seq: seq, Timestamp: ts, RunID: runID, Payload: payload, PrevHash: prevHash, EventHash: eventHash}, nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("auditlog: sync: %w", err)
	}
	return l.file.Close()
}

// Verify reads the log file at path and checks the full hash chain,
// returning the ordered entries on success or the first chain error.
func Verify(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: verify open %q: %w", path, err)
	}
	defer f.Close()

	entries, _, _, err := scanChain(f)
	if err != nil {
		return nil, fmt.Errorf("auditlog: %w", err)
	}
	return entries, nil
}

// scanChain reads every JSON line from f in order, validating each entry's
// event_hash and its prev_hash linkage to the one before it, and returns
// the validated entries plus the trailing prev_hash/seq an appender should
// resume from. Open and Verify both need this exact walk — Open to recover
// chain state before accepting new writes, Verify to report the whole
// chain to a caller — so it lives here once instead of twice.
func scanChain(f *os.File) ([]Entry, string, int64, error) {
	prevHash := GenesisHash
	seq := int64(0)
	var entries []Entry

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, "", 0, fmt.Errorf("malformed entry at seq %d: %w", seq+1, err)
		}
		if e.PrevHash != prevHash {
			return nil, "", 0, fmt.Errorf("chain break at seq %d: expected prev_hash %q, got %q", e.Seq, prevHash, e.PrevHash)
		}
		computed := hashContent(entryContent{e.Seq, e.Timestamp, e.RunID, e.Payload, e.PrevHash})
		if computed != e.EventHash {
			return nil, "", 0, fmt.Errorf("hash mismatch at seq %d: stored %q, computed %q", e.Seq, e.EventHash, computed)
		}
		entries = append(entries, Entry{e.Seq, e.Timestamp, e.RunID, e.Payload, e.PrevHash, e.EventHash})
		prevHash = e.EventHash
		seq = e.Seq
	}
	if err := scanner.Err(); err != nil {
		return nil, "", 0, fmt.Errorf("scanning log: %w", err)
	}
	return entries, prevHash, seq, nil
}

func hashContent(c entryContent) string {
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("auditlog: marshal entryContent: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
