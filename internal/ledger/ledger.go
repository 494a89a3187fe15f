// Package ledger keeps the local history of ingest runs in SQLite.
// It backs the status and history commands; the analytics database
// itself never stores run bookkeeping.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses. A run is finalized exactly once.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Run is one ingest run's summary.
type Run struct {
	ID                  string
	StartedAt           time.Time
	FinishedAt          *time.Time
	Status              string
	PartitionsProcessed int
	PartitionsSkipped   int
	RecordsFetched      int64
	RecordsAccepted     int64
	RecordsRejected     int64
	Error               string
}

// Ledger manages run history in SQLite.
type Ledger struct {
	db *sql.DB
}

// Open creates (or opens) the run ledger in dataDir.
func Open(dataDir string) (*Ledger, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ingest.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening run ledger: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating run ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		partitions_processed INTEGER DEFAULT 0,
		partitions_skipped INTEGER DEFAULT 0,
		records_fetched INTEGER DEFAULT 0,
		records_accepted INTEGER DEFAULT 0,
		records_rejected INTEGER DEFAULT 0,
		error_message TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// CreateRun records a new run in the running state. Schedulers that retry
// a task reuse its run ID, so an existing row is restarted in place.
func (l *Ledger) CreateRun(id string) error {
	_, err := l.db.Exec(`
		INSERT INTO runs (id, started_at, status)
		VALUES (?, datetime('now'), 'running')
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = NULL,
			status = 'running',
			partitions_processed = 0,
			partitions_skipped = 0,
			records_fetched = 0,
			records_accepted = 0,
			records_rejected = 0,
			error_message = ''
	`, id)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", id, err)
	}
	return nil
}

// FinalizeRun writes the run's terminal state. Finalizing twice is a
// state error: summaries are immutable once written.
func (l *Ledger) FinalizeRun(run *Run) error {
	res, err := l.db.Exec(`
		UPDATE runs SET
			finished_at = datetime('now'),
			status = ?,
			partitions_processed = ?,
			partitions_skipped = ?,
			records_fetched = ?,
			records_accepted = ?,
			records_rejected = ?,
			error_message = ?
		WHERE id = ? AND status = 'running'
	`, run.Status, run.PartitionsProcessed, run.PartitionsSkipped,
		run.RecordsFetched, run.RecordsAccepted, run.RecordsRejected,
		run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finalizing run %s: %w", run.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run ledger: run %s not found or already finalized", run.ID)
	}
	return nil
}

// GetRun returns a run by ID, or nil if not found.
func (l *Ledger) GetRun(id string) (*Run, error) {
	row := l.db.QueryRow(`
		SELECT id, started_at, finished_at, status,
			partitions_processed, partitions_skipped,
			records_fetched, records_accepted, records_rejected, error_message
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// GetLastRun returns the most recent run, or nil if none exist.
func (l *Ledger) GetLastRun() (*Run, error) {
	row := l.db.QueryRow(`
		SELECT id, started_at, finished_at, status,
			partitions_processed, partitions_skipped,
			records_fetched, records_accepted, records_rejected, error_message
		FROM runs ORDER BY started_at DESC, id DESC LIMIT 1
	`)
	return scanRun(row)
}

// GetAllRuns returns recent runs, newest first.
func (l *Ledger) GetAllRuns() ([]Run, error) {
	rows, err := l.db.Query(`
		SELECT id, started_at, finished_at, status,
			partitions_processed, partitions_skipped,
			records_fetched, records_accepted, records_rejected, error_message
		FROM runs ORDER BY started_at DESC, id DESC LIMIT 20
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (*Run, error) {
	run, err := scanFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func scanRunRows(rows *sql.Rows) (*Run, error) {
	return scanFrom(rows)
}

func scanFrom(s scannable) (*Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	err := s.Scan(&r.ID, &startedAt, &finishedAt, &r.Status,
		&r.PartitionsProcessed, &r.PartitionsSkipped,
		&r.RecordsFetched, &r.RecordsAccepted, &r.RecordsRejected, &r.Error)
	if err != nil {
		return nil, err
	}

	r.StartedAt, _ = time.Parse("2006-01-02 15:04:05", startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse("2006-01-02 15:04:05", finishedAt.String)
		r.FinishedAt = &t
	}
	return &r, nil
}
