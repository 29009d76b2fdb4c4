package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Provider hands out a pinned connection for a single file's statements.
// The release func must be called exactly once when the file is done.
type Provider interface {
	Acquire(ctx context.Context) (*sql.Conn, func(), error)
	Close() error
}

// EphemeralSQLite gives every file its own empty in-memory SQLite database,
// discarded on release.
type EphemeralSQLite struct{}

// NewEphemeralSQLite returns the default sandbox provider.
func NewEphemeralSQLite() *EphemeralSQLite {
	return &EphemeralSQLite{}
}

// Acquire opens a fresh in-memory database.
func (p *EphemeralSQLite) Acquire(ctx context.Context) (*sql.Conn, func(), error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, nil, fmt.Errorf("opening sandbox database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connecting to sandbox database: %w", err)
	}

	release := func() {
		conn.Close()
		db.Close()
	}
	return conn, release, nil
}

// Close is a no-op; each database is closed on release.
func (p *EphemeralSQLite) Close() error {
	return nil
}

// Pool pins connections from a shared database handle. State written by one
// file is visible to later files.
type Pool struct {
	db *sql.DB
}

// OpenPool opens driver/dsn and caps it at maxOpen connections. SQLite
// connections wait on a locked database instead of failing with SQLITE_BUSY.
func OpenPool(driver, dsn string, maxOpen int) (*Pool, error) {
	if driver == "sqlite" {
		dsn = withBusyTimeout(dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s sandbox: %w", driver, err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	return &Pool{db: db}, nil
}

// busyTimeoutMs bounds how long a shared SQLite sandbox waits for a lock.
const busyTimeoutMs = 5000

// withBusyTimeout adds a busy_timeout pragma to a modernc SQLite DSN. The
// DSN form applies it to every connection the pool opens.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, busyTimeoutMs)
}

// Acquire pins one connection from the pool.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring sandbox connection: %w", err)
	}
	return conn, func() { conn.Close() }, nil
}

// DB exposes the underlying handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the underlying handle.
func (p *Pool) Close() error {
	return p.db.Close()
}
