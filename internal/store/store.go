// Package store provides SQLite-based persistence for sqlquest evaluations.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Store is the SQLite-backed evaluation repository.
type Store struct {
	db   *sql.DB
	path string
}

// Querier is satisfied by *sql.DB and *sql.Tx. Write methods take one so the
// caller decides where the transaction boundary sits.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens or creates a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// BeginTx starts a transaction for one file's unit of work.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}

// migrate applies the schema if not already at the current version.
func (s *Store) migrate() error {
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(schemaSQL); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		_, err = s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if version < currentSchemaVersion {
		return fmt.Errorf("schema version %d is older than %d and cannot be upgraded in place", version, currentSchemaVersion)
	}

	return nil
}

// --- Runs ---

// Run records one invocation of the evaluate command.
type Run struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Target     string     `json:"target"`
	Status     string     `json:"status"`
	ConfigJSON string     `json:"config_json,omitempty"`
	RunTotals
}

// RunTotals are the file counts reported when a run finishes.
type RunTotals struct {
	TotalFiles int `json:"total_files"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Cached     int `json:"cached"`
}

// CreateRun starts a new run and returns its ID.
func (s *Store) CreateRun(ctx context.Context, target, configJSON string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (target, config_json, started_at) VALUES (?, ?, ?)",
		target, configJSON, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}
	return result.LastInsertId()
}

// FinishRun stores the final status and totals of a run.
func (s *Store) FinishRun(ctx context.Context, id int64, status string, totals RunTotals) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, total_files = ?, succeeded = ?, failed = ?, cached = ?
		 WHERE id = ?`,
		status, time.Now().UTC(), totals.TotalFiles, totals.Succeeded, totals.Failed, totals.Cached, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, target, status, COALESCE(config_json, ''),
	total_files, succeeded, failed, cached`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.StartedAt, &finished, &r.Target, &r.Status, &r.ConfigJSON,
		&r.TotalFiles, &r.Succeeded, &r.Failed, &r.Cached); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", id)
	}
	return r, err
}

// LatestRun returns the most recent run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no runs found")
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
