// Package results is a local cache of step results produced by
// external executions, keyed by run id and step name. The CLI run
// command reads it to assemble upstream results for an invocation
// without re-running anything.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists step results in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and
// ensures the results table exists. Paths on network filesystems are
// rejected where detection is supported.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateResultsFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS step_results (
  run_id      TEXT NOT NULL,
  step_name   TEXT NOT NULL,
  result      TEXT NOT NULL,
  recorded_at TEXT NOT NULL,
  PRIMARY KEY (run_id, step_name)
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create step_results table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put records the serialized result of one step in a run, replacing any
// earlier record for the same run and step.
func (s *Store) Put(ctx context.Context, runID, stepName, result string) error {
	if runID == "" {
		return fmt.Errorf("run id is empty")
	}
	if stepName == "" {
		return fmt.Errorf("step name is empty")
	}
	if !json.Valid([]byte(result)) {
		return fmt.Errorf("result for step %q is not valid JSON", stepName)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO step_results(run_id, step_name, result, recorded_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(run_id, step_name) DO UPDATE SET
  result = excluded.result,
  recorded_at = excluded.recorded_at;
`, runID, stepName, result, now)
	if err != nil {
		return fmt.Errorf("upsert step result: %w", err)
	}
	return nil
}

// Get returns one step's recorded result. The second return is false
// when no record exists.
func (s *Store) Get(ctx context.Context, runID, stepName string) (string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT result FROM step_results WHERE run_id = ? AND step_name = ?;",
		runID, stepName).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read step result: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return "", false, fmt.Errorf("stored result is invalid JSON for run=%q step=%q", runID, stepName)
	}
	return raw, true, nil
}

// Gather assembles the recorded results for the named steps as a JSON
// object keyed by step name, and reports the names with no record, in
// the requested order.
func (s *Store) Gather(ctx context.Context, runID string, steps []string) (string, []string, error) {
	if len(steps) == 0 {
		return "{}", nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(steps)), ", ")
	args := make([]any, 0, len(steps)+1)
	args = append(args, runID)
	for _, name := range steps {
		args = append(args, name)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT step_name, result FROM step_results WHERE run_id = ? AND step_name IN ("+placeholders+");",
		args...)
	if err != nil {
		return "", nil, fmt.Errorf("read step results: %w", err)
	}
	defer rows.Close()

	found := make(map[string]json.RawMessage)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return "", nil, fmt.Errorf("scan step result: %w", err)
		}
		if !json.Valid([]byte(raw)) {
			return "", nil, fmt.Errorf("stored result is invalid JSON for run=%q step=%q", runID, name)
		}
		found[name] = json.RawMessage(raw)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("read step results: %w", err)
	}

	var missing []string
	for _, name := range steps {
		if _, ok := found[name]; !ok {
			missing = append(missing, name)
		}
	}

	data, err := json.Marshal(found)
	if err != nil {
		return "", nil, fmt.Errorf("marshal gathered results: %w", err)
	}
	return string(data), missing, nil
}

// List returns the step names recorded for a run, sorted.
func (s *Store) List(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT step_name FROM step_results WHERE run_id = ? ORDER BY step_name;", runID)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan step name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	return names, nil
}
