package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *storage.Run) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = storage.StatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, suite_name, status, all_passed, total, passed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SuiteName, run.Status, boolInt(run.AllPassed), run.Total, run.Passed,
		run.CreatedAt.Format(time.RFC3339Nano), run.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	// Try exact match first, then prefix match
	run, err := s.getRunExact(ctx, id)
	if err == nil {
		return run, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite_name, status, all_passed, total, passed, created_at, updated_at
		FROM runs WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, run)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous run prefix %q matches %d runs", id, len(matches))
	}
}

func (s *SQLiteStore) getRunExact(ctx context.Context, id string) (*storage.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, suite_name, status, all_passed, total, passed, created_at, updated_at
		FROM runs WHERE id = ?`, id)
	return scanRunRow(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts storage.RunListOptions) ([]storage.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, suite_name, status, all_passed, total, passed, created_at, updated_at FROM runs`
	var where []string
	var args []any

	if opts.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(opts.Status))
	}
	if opts.Suite != "" {
		where = append(where, `suite_name = ?`)
		args = append(args, opts.Suite)
	}
	for i, cond := range where {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}

	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *storage.Run) error {
	run.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, all_passed = ?, total = ?, passed = ?, updated_at = ? WHERE id = ?`,
		run.Status, boolInt(run.AllPassed), run.Total, run.Passed,
		run.UpdatedAt.Format(time.RFC3339Nano), run.ID,
	)
	return err
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	// Resolve prefix first
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}

	// Delete results first (foreign key), then the run
	_, err = s.db.ExecContext(ctx, `DELETE FROM run_results WHERE run_id = ?`, run.ID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID)
	return err
}

func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *results.TestResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_results (run_id, test_name, result, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, test_name) DO UPDATE SET result = excluded.result, updated_at = excluded.updated_at`,
		runID, res.TestName, string(data), now,
	)
	return err
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]*results.TestResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	// rowid keeps first-save order even across upserts
	rows, err := s.db.QueryContext(ctx, `
		SELECT result FROM run_results WHERE run_id = ? ORDER BY rowid`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	var out []*results.TestResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var res results.TestResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return nil, fmt.Errorf("unmarshaling result: %w", err)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetResult(ctx context.Context, runID, testName string) (*results.TestResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	var data string
	err = s.db.QueryRowContext(ctx, `
		SELECT result FROM run_results WHERE run_id = ? AND test_name = ?`, run.ID, testName).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no result for test %q in run %s", testName, run.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}

	var res results.TestResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshaling result: %w", err)
	}
	return &res, nil
}

func (s *SQLiteStore) OverrideResult(ctx context.Context, runID, testName string, status results.Status, reason string) (*results.TestResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	res, err := s.GetResult(ctx, run.ID, testName)
	if err != nil {
		return nil, err
	}
	if err := res.Override(status, reason); err != nil {
		return nil, err
	}
	if err := s.SaveResult(ctx, run.ID, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) RevertResult(ctx context.Context, runID, testName string) (*results.TestResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	res, err := s.GetResult(ctx, run.ID, testName)
	if err != nil {
		return nil, err
	}
	if err := res.Revert(); err != nil {
		return nil, err
	}
	if err := s.SaveResult(ctx, run.ID, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRunFromScanner(s scanner) (*storage.Run, error) {
	var run storage.Run
	var allPassed int
	var createdAt, updatedAt string
	err := s.Scan(&run.ID, &run.SuiteName, &run.Status, &allPassed,
		&run.Total, &run.Passed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	run.AllPassed = allPassed != 0
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &run, nil
}

func scanRun(rows *sql.Rows) (*storage.Run, error) {
	return scanRunFromScanner(rows)
}

func scanRunRow(row *sql.Row) (*storage.Run, error) {
	return scanRunFromScanner(row)
}
