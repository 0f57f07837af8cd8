// Package storage provides SQLite-backed persistence for evaluation runs and their result tables.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/retroeval/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/retroeval/runs.db.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "retroeval", "runs.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	s := &Storage{db: db, maxRuns: maxRuns}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := s.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			mode        TEXT NOT NULL,
			band        TEXT,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			scenarios   INTEGER NOT NULL,
			failures    INTEGER NOT NULL,
			columns     TEXT NOT NULL DEFAULT '[]',
			tag_columns TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			label    TEXT NOT NULL,
			vals     TEXT NOT NULL,
			tags     TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores run and its table in one transaction, then drops the
// oldest runs beyond maxRuns.
func (s *Storage) SaveRun(run *models.Run, table *models.Table) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	columnsJSON, err := json.Marshal(table.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}
	tagColumnsJSON, err := json.Marshal(table.TagColumns)
	if err != nil {
		return fmt.Errorf("failed to marshal tag columns: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO runs
			(id, mode, band, started_at, finished_at, scenarios, failures, columns, tag_columns)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Mode, run.Band,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		run.Scenarios, run.Failures,
		string(columnsJSON), string(tagColumnsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, row := range table.Rows {
		valuesJSON, err := json.Marshal(encodeValues(row.Values))
		if err != nil {
			return fmt.Errorf("failed to marshal row %q: %w", row.Label, err)
		}
		tagsJSON, err := json.Marshal(row.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags of row %q: %w", row.Label, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO results (run_id, position, label, vals, tags)
			VALUES (?,?,?,?,?)`,
			run.ID, i, row.Label, string(valuesJSON), string(tagsJSON),
		); err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}

	if err := rotateRuns(tx, s.maxRuns); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRun returns one run by id.
func (s *Storage) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(`SELECT `+runCols+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.Run{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadTable rebuilds the result table stored with a run.
func (s *Storage) LoadTable(runID string) (*models.Table, error) {
	var columnsJSON, tagColumnsJSON string
	err := s.db.QueryRow(`SELECT columns, tag_columns FROM runs WHERE id = ?`, runID).
		Scan(&columnsJSON, &tagColumnsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var columns, tagColumns []string
	if err := json.Unmarshal([]byte(columnsJSON), &columns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
	}
	if err := json.Unmarshal([]byte(tagColumnsJSON), &tagColumns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tag columns: %w", err)
	}
	table := models.NewTable(columns, tagColumns)

	rows, err := s.db.Query(`
		SELECT label, vals, tags FROM results
		WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var label, valuesJSON, tagsJSON string
		if err := rows.Scan(&label, &valuesJSON, &tagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		var encoded []*float64
		if err := json.Unmarshal([]byte(valuesJSON), &encoded); err != nil {
			return nil, fmt.Errorf("failed to unmarshal values of %q: %w", label, err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags of %q: %w", label, err)
		}
		if tags == nil {
			tags = []string{}
		}
		if err := table.Append(models.Row{Label: label, Values: decodeValues(encoded), Tags: tags}); err != nil {
			return nil, err
		}
	}
	return table, rows.Err()
}

// RotateRuns keeps at most maxRuns newest runs by started_at.
// Cascading deletes remove their results.
func (s *Storage) RotateRuns() error {
	return rotateRuns(s.db, s.maxRuns)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func rotateRuns(db execer, maxRuns int) error {
	_, err := db.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, maxRuns)
	if err != nil {
		return fmt.Errorf("failed to rotate runs: %w", err)
	}
	return nil
}

const runCols = `id, mode, band, started_at, finished_at, scenarios, failures`

func scanRun(scan func(...any) error) (*models.Run, error) {
	var r models.Run
	var band sql.NullString
	var startedAtNano, finishedAtNano int64
	err := scan(
		&r.ID, &r.Mode, &band,
		&startedAtNano, &finishedAtNano,
		&r.Scenarios, &r.Failures,
	)
	if err != nil {
		return nil, err
	}
	r.Band = band.String
	r.StartedAt = time.Unix(0, startedAtNano)
	r.FinishedAt = time.Unix(0, finishedAtNano)
	return &r, nil
}

// encodeValues maps NaN and infinities to JSON null.
func encodeValues(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		if !math.IsNaN(values[i]) && !math.IsInf(values[i], 0) {
			out[i] = &values[i]
		}
	}
	return out
}

func decodeValues(encoded []*float64) []float64 {
	out := make([]float64, len(encoded))
	for i, v := range encoded {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}
