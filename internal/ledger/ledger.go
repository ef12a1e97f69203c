// Package ledger keeps a local SQLite record of dispatch batches, their
// per-run outcomes and scheduler submissions.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/surveybott/fmribatch/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 2

// ErrSchemaMismatch indicates a ledger written by an incompatible version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Batch statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Ledger is a SQLite-backed dispatch record.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open creates or opens the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Dispatch workers record concurrently; one connection serialises writes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database file.
func (l *Ledger) Path() string { return l.path }

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) initSchema(ctx context.Context) error {
	var tableExists int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := l.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: ledger has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, l.path)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

// StartBatch inserts a running batch.
func (l *Ledger) StartBatch(ctx context.Context, b models.BatchResult) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO batches (id, step, status, skipped, started_at) VALUES (?, ?, ?, ?, ?)`,
		b.BatchID, b.Step, StatusRunning, b.Skipped, ts(b.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// RecordResult stores one unit outcome.
func (l *Ledger) RecordResult(ctx context.Context, batchID string, r models.WorkResult) error {
	var errType, errMsg sql.NullString
	if r.Error != nil {
		errType = sql.NullString{String: string(r.Error.Type), Valid: true}
		errMsg = sql.NullString{String: r.Error.Message, Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO results (
            batch_id, prefix, subject, step, output_dir, error_type, error,
            started_at, ended_at, duration_sec
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, r.Prefix, r.Subject, r.Step, r.OutputDir, errType, errMsg,
		ts(r.StartedAt), ts(r.EndedAt), r.DurationSec,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// FinishBatch stores the final counts. Failures outrank cancellation in the
// recorded status.
func (l *Ledger) FinishBatch(ctx context.Context, b models.BatchResult) error {
	status := StatusSucceeded
	switch {
	case b.Failed > 0:
		status = StatusFailed
	case b.Canceled > 0:
		status = StatusCanceled
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, dispatched = ?, succeeded = ?, failed = ?, skipped = ?,
            canceled = ?, ended_at = ?, duration_sec = ? WHERE id = ?`,
		status, b.Dispatched, b.Succeeded, b.Failed, b.Skipped, b.Canceled,
		ts(b.EndedAt), b.TotalDurationSec, b.BatchID,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s: %w", b.BatchID, sql.ErrNoRows)
	}
	return nil
}

// Batch is a stored batch row.
type Batch struct {
	ID          string
	Step        string
	Status      string
	Dispatched  int
	Succeeded   int
	Failed      int
	Skipped     int
	Canceled    int
	StartedAt   time.Time
	EndedAt     time.Time
	DurationSec float64
}

// Batches returns the most recent batches first.
func (l *Ledger) Batches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, step, status, dispatched, succeeded, failed, skipped, canceled, started_at, ended_at, duration_sec
         FROM batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var b Batch
		var started, ended sql.NullString
		var dur sql.NullFloat64
		if err := rows.Scan(&b.ID, &b.Step, &b.Status, &b.Dispatched, &b.Succeeded, &b.Failed, &b.Skipped, &b.Canceled, &started, &ended, &dur); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.StartedAt, b.EndedAt, b.DurationSec = parseTS(started), parseTS(ended), dur.Float64
		out = append(out, b)
	}
	return out, rows.Err()
}

// Results returns the outcomes of one batch in prefix order.
func (l *Ledger) Results(ctx context.Context, batchID string) ([]models.WorkResult, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT prefix, subject, step, output_dir, error_type, error, started_at, ended_at, duration_sec
         FROM results WHERE batch_id = ? ORDER BY prefix`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []models.WorkResult
	for rows.Next() {
		var r models.WorkResult
		var errType, errMsg, started, ended sql.NullString
		if err := rows.Scan(&r.Prefix, &r.Subject, &r.Step, &r.OutputDir, &errType, &errMsg, &started, &ended, &r.DurationSec); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if errType.Valid {
			r.Error = &models.WorkError{Type: models.ErrorType(errType.String), Message: errMsg.String}
		}
		r.StartedAt, r.EndedAt = parseTS(started), parseTS(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Submission is a job-array script handed to a scheduler.
type Submission struct {
	Scheduler   string
	JobID       string
	ScriptPath  string
	Subjects    int
	Remote      string
	SubmittedAt time.Time
}

// RecordSubmission stores a scheduler submission.
func (l *Ledger) RecordSubmission(ctx context.Context, s Submission) error {
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO submissions (scheduler, job_id, script_path, subjects, remote, submitted_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		s.Scheduler, s.JobID, s.ScriptPath, s.Subjects, nullableString(s.Remote), ts(s.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Submissions returns the most recent submissions first.
func (l *Ledger) Submissions(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT scheduler, job_id, script_path, subjects, remote, submitted_at
         FROM submissions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var s Submission
		var remote, at sql.NullString
		if err := rows.Scan(&s.Scheduler, &s.JobID, &s.ScriptPath, &s.Subjects, &remote, &at); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Remote, s.SubmittedAt = remote.String, parseTS(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
