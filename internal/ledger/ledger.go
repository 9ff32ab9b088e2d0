// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger keeps a SQLite history of conversion jobs: one row per job
// with its latest stage and outcome, plus every stage transition.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/docconvert/pkg/types"
)

// DBFile is the ledger's file name under the archive root.
const DBFile = "jobs.db"

const defaultLimit = 20

// Ledger records job progress in a SQLite database.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens or creates dir/jobs.db and its schema.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	path := filepath.Join(dir, DBFile)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// Path is the database file.
func (l *Ledger) Path() string { return l.path }

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			data_id TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			batch_id TEXT,
			stage TEXT NOT NULL,
			error_kind TEXT,
			error TEXT,
			output_path TEXT,
			archive_dir TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,
		`CREATE TABLE IF NOT EXISTS stage_events (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			data_id TEXT NOT NULL REFERENCES jobs(data_id),
			stage TEXT NOT NULL,
			at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_data_id ON stage_events(data_id)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record stores rec as the job's current state and logs its stage as a
// transition. The job's creation time is kept from the first record.
func (l *Ledger) Record(ctx context.Context, rec types.JobRecord) error {
	if rec.DataID == "" {
		return errors.New("recording job: empty data id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (data_id, source_path, batch_id, stage, error_kind, error, output_path, archive_dir, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(data_id) DO UPDATE SET
			source_path=excluded.source_path, batch_id=excluded.batch_id, stage=excluded.stage,
			error_kind=excluded.error_kind, error=excluded.error, output_path=excluded.output_path,
			archive_dir=excluded.archive_dir, attempts=excluded.attempts, updated_at=excluded.updated_at`,
		rec.DataID, rec.SourcePath, rec.BatchID, string(rec.Stage), rec.ErrorKind, rec.Error,
		rec.OutputPath, rec.ArchiveDir, rec.Attempts, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting job %s: %w", rec.DataID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO stage_events (data_id, stage, at) VALUES (?, ?, ?)`,
		rec.DataID, string(rec.Stage), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording stage event: %w", err)
	}

	return tx.Commit()
}

const selectJobs = `SELECT data_id, source_path, batch_id, stage, error_kind, error, output_path, archive_dir, attempts, created_at, updated_at FROM jobs`

// Recent returns up to n jobs, newest first. n <= 0 means 20.
func (l *Ledger) Recent(ctx context.Context, n int) ([]types.JobRecord, error) {
	if n <= 0 {
		n = defaultLimit
	}
	return l.query(ctx, selectJobs+` ORDER BY created_at DESC, data_id DESC LIMIT ?`, n)
}

// ByStage returns every job currently in stage, newest first.
func (l *Ledger) ByStage(ctx context.Context, stage types.JobStage) ([]types.JobRecord, error) {
	return l.query(ctx, selectJobs+` WHERE stage = ? ORDER BY created_at DESC, data_id DESC`, string(stage))
}

// Get returns one job by data id.
func (l *Ledger) Get(ctx context.Context, dataID string) (types.JobRecord, error) {
	recs, err := l.query(ctx, selectJobs+` WHERE data_id = ?`, dataID)
	if err != nil {
		return types.JobRecord{}, err
	}
	if len(recs) == 0 {
		return types.JobRecord{}, fmt.Errorf("job %s not found", dataID)
	}
	return recs[0], nil
}

// Events returns the recorded transitions of a job in order.
func (l *Ledger) Events(ctx context.Context, dataID string) ([]types.StageEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT data_id, stage, at FROM stage_events WHERE data_id = ? ORDER BY rowid`, dataID)
	if err != nil {
		return nil, fmt.Errorf("querying stage events: %w", err)
	}
	defer rows.Close()

	var events []types.StageEvent
	for rows.Next() {
		var e types.StageEvent
		var stage, at string
		if err := rows.Scan(&e.DataID, &stage, &at); err != nil {
			return nil, fmt.Errorf("scanning stage event: %w", err)
		}
		e.Stage = types.JobStage(stage)
		e.At = parseTime(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]types.JobRecord, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var recs []types.JobRecord
	for rows.Next() {
		var r types.JobRecord
		var batchID, errKind, errMsg, output, archive sql.NullString
		var stage, created, updated string
		if err := rows.Scan(&r.DataID, &r.SourcePath, &batchID, &stage, &errKind, &errMsg,
			&output, &archive, &r.Attempts, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		r.BatchID = batchID.String
		r.Stage = types.JobStage(stage)
		r.ErrorKind = errKind.String
		r.Error = errMsg.String
		r.OutputPath = output.String
		r.ArchiveDir = archive.String
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ExportYAML writes records to w as a YAML list.
func ExportYAML(w io.Writer, recs []types.JobRecord) error {
	if recs == nil {
		recs = []types.JobRecord{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
