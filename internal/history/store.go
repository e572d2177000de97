// Package history persists finished runs so status queries work between
// invocations.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stackup/internal/state"

	_ "modernc.org/sqlite"
)

// Run is one recorded orchestrator run.
type Run struct {
	ID         int64         `json:"id"`
	Project    string        `json:"project"`
	Outcome    string        `json:"outcome"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Services   []state.Entry `json:"services"`
}

type Store struct {
	db *sql.DB
}

// DefaultPath returns the history database location, honoring
// XDG_STATE_HOME and falling back to ~/.local/state/stackup/history.db.
func DefaultPath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "state", "stackup", "history.db")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "stackup", "history.db")
}

// Open creates the database and schema as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	outcome TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	services_json TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize runs schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a finished run.
func (s *Store) Record(run Run) error {
	servicesJSON, err := json.Marshal(run.Services)
	if err != nil {
		return fmt.Errorf("marshal run services: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (project, outcome, started_at, finished_at, services_json) VALUES (?, ?, ?, ?, ?)`,
		run.Project,
		run.Outcome,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(servicesJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Latest returns the most recent run for a project. The bool is false when
// the project has no recorded runs.
func (s *Store) Latest(project string) (Run, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, project, outcome, started_at, finished_at, services_json
		 FROM runs WHERE project = ? ORDER BY id DESC LIMIT 1`,
		project,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// List returns up to limit runs for a project, newest first.
func (s *Store) List(project string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, project, outcome, started_at, finished_at, services_json
		 FROM runs WHERE project = ? ORDER BY id DESC LIMIT ?`,
		project, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run          Run
		startedAt    string
		finishedAt   string
		servicesJSON string
	)
	if err := row.Scan(&run.ID, &run.Project, &run.Outcome, &startedAt, &finishedAt, &servicesJSON); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run row: %w", err)
	}

	var err error
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("parse run started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return Run{}, fmt.Errorf("parse run finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(servicesJSON), &run.Services); err != nil {
		return Run{}, fmt.Errorf("decode run services: %w", err)
	}
	return run, nil
}
