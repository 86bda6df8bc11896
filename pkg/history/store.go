// Package history keeps a record of audit runs in SQLite so results can be
// compared across runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"maskaudit/internal/models"
)

// Run is one stored audit run
type Run struct {
	models.RunSummary

	ImageDir    string
	MaskDir     string
	Reference   string
	ReportPath  string
	PatchedPath string
}

// Mismatch is one stored (case, mask) disagreement of a run
type Mismatch struct {
	CaseID    string
	MaskName  string
	Computed  int
	Reference string
}

// Store manages run history backed by SQLite
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores a run and its mismatching entries in one transaction
func (s *Store) Record(ctx context.Context, run Run, entries []models.ReconciliationEntry) error {
	if run.RunID == "" {
		return errors.New("run id is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs (
            run_id, started_at, finished_at, cases, failures, skipped,
            mismatches, patched_cells, image_dir, mask_dir, reference,
            report_path, patched_path, processed, case_time_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Cases,
		run.Failures,
		run.Skipped,
		run.Mismatches,
		run.PatchedCells,
		nullableString(run.ImageDir),
		nullableString(run.MaskDir),
		nullableString(run.Reference),
		nullableString(run.ReportPath),
		nullableString(run.PatchedPath),
		run.Processed,
		run.CaseTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, e := range entries {
		if e.Match {
			continue
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO run_mismatches (run_id, case_id, mask_name, computed, reference) VALUES (?, ?, ?, ?, ?)`,
			run.RunID, e.CaseID, e.MaskName, e.PresenceInData, e.PresenceInReference.String(),
		); err != nil {
			return fmt.Errorf("insert mismatch %s/%s: %w", e.CaseID, e.MaskName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, cases, failures, skipped, mismatches,
    patched_cells, image_dir, mask_dir, reference, report_path, patched_path,
    processed, case_time_ms`

// List returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Get returns the run with runID, or nil when none exists.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Mismatches returns the stored mismatches of a run ordered by case and mask
func (s *Store) Mismatches(ctx context.Context, runID string) ([]Mismatch, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT case_id, mask_name, computed, reference FROM run_mismatches
         WHERE run_id = ? ORDER BY case_id, mask_name`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list mismatches: %w", err)
	}
	defer rows.Close()

	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.CaseID, &m.MaskName, &m.Computed, &m.Reference); err != nil {
			return nil, fmt.Errorf("scan mismatch: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                 Run
		started, finished   string
		imageDir, maskDir   sql.NullString
		reference           sql.NullString
		reportPath, patched sql.NullString
		caseTimeMS          int64
	)
	if err := row.Scan(
		&run.RunID, &started, &finished, &run.Cases, &run.Failures, &run.Skipped,
		&run.Mismatches, &run.PatchedCells, &imageDir, &maskDir, &reference,
		&reportPath, &patched, &run.Processed, &caseTimeMS,
	); err != nil {
		return nil, err
	}

	var err error
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	run.ImageDir = imageDir.String
	run.MaskDir = maskDir.String
	run.Reference = reference.String
	run.ReportPath = reportPath.String
	run.PatchedPath = patched.String
	run.CaseTime = time.Duration(caseTimeMS) * time.Millisecond
	return &run, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
