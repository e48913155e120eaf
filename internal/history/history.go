// Package history provides a WAL-mode SQLite-backed record of dumps
// collected by a procdump run. It stores dump metadata only — the
// reason a dump fired, its timestamp, and the path gcore wrote to —
// never the dump image bytes themselves (SPEC_FULL §11.J).
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL, mirroring the
// teacher's queue package, because one goroutine per sampler may record a
// dump concurrently with another reading Recent for a status report.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Store is a WAL-mode SQLite-backed record of collected dumps. It is safe
// for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory
// database is used; this is suitable for tests but loses all data when
// closed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; serialize through a single
	// connection rather than risk "database is locked" errors when more
	// than one sampler goroutine records a dump concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// ddl is the schema DDL, kept here to keep the package self-contained.
const ddl = `
CREATE TABLE IF NOT EXISTS dumps (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT    NOT NULL,
    pid         INTEGER NOT NULL,
    process_name TEXT   NOT NULL DEFAULT '',
    reason      TEXT    NOT NULL,
    dump_path   TEXT    NOT NULL,
    collected_at TEXT   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dumps_run
    ON dumps (run_id, id);
`

// Record is one row describing a collected dump.
type Record struct {
	ID          int64
	RunID       string
	PID         int
	ProcessName string
	Reason      string
	DumpPath    string
	CollectedAt time.Time
}

// Insert persists r. ID and CollectedAt default to the database's
// autoincrement key and the current time if r.CollectedAt is zero.
func (s *Store) Insert(ctx context.Context, r Record) (int64, error) {
	collectedAt := r.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO dumps (run_id, pid, process_name, reason, dump_path, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.PID, r.ProcessName, r.Reason, r.DumpPath,
		collectedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("history: insert: %w", err)
	}
	return result.LastInsertId()
}

// ByRun returns every dump recorded for runID, oldest first.
func (s *Store) ByRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, pid, process_name, reason, dump_path, collected_at
		 FROM   dumps
		 WHERE  run_id = ?
		 ORDER  BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: by-run query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the n most recently collected dumps across all runs,
// newest first. If n <= 0, Recent returns nil without querying.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, pid, process_name, reason, dump_path, collected_at
		 FROM   dumps
		 ORDER  BY id DESC
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.ID, &r.RunID, &r.PID, &r.ProcessName, &r.Reason, &r.DumpPath, &ts); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.CollectedAt, _ = time.Parse(time.RFC3339Nano, ts)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return records, nil
}

// Count returns the total number of dumps recorded for runID.
func (s *Store) Count(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dumps WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return count, nil
}

// Close closes the underlying database connection. Subsequent calls to any
// method are undefined; callers must not use the Store after Close returns.
func (s *Store) Close() error {
	return s.db.Close()
}
