package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresOptions configures a Postgres sandbox.
type PostgresOptions struct {
	DSN          string
	MaxOpenConns int
	ReadyTimeout time.Duration

	// Cleanup runs after the pool is closed, e.g. to remove a container.
	Cleanup func(context.Context) error
}

// Postgres isolates files by giving each one a throwaway schema on a shared
// server. The schema is dropped on release.
type Postgres struct {
	db      *sql.DB
	cleanup func(context.Context) error
	logger  *slog.Logger
}

// OpenPostgres connects to dsn and waits until the server accepts queries.
func OpenPostgres(ctx context.Context, opts PostgresOptions, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres sandbox: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := waitReady(ctx, db, timeout, logger); err != nil {
		db.Close()
		if opts.Cleanup != nil {
			_ = opts.Cleanup(context.Background())
		}
		return nil, err
	}

	return &Postgres{db: db, cleanup: opts.Cleanup, logger: logger}, nil
}

func waitReady(ctx context.Context, db *sql.DB, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return nil
		}
		logger.Debug("waiting for postgres sandbox", "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres sandbox not ready after %s: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// SchemaName returns a fresh sandbox schema name.
func SchemaName() string {
	return "sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Acquire creates a schema and points the connection's search_path at it.
func (p *Postgres) Acquire(ctx context.Context) (*sql.Conn, func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring postgres connection: %w", err)
	}

	schema := pq.QuoteIdentifier(SchemaName())
	if _, err := conn.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("creating sandbox schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET search_path TO "+schema); err != nil {
		p.dropSchema(conn, schema)
		conn.Close()
		return nil, nil, fmt.Errorf("setting search_path: %w", err)
	}

	release := func() {
		p.dropSchema(conn, schema)
		conn.Close()
	}
	return conn, release, nil
}

func (p *Postgres) dropSchema(conn *sql.Conn, schema string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// An aborted transaction left open by the file would reject the DROP.
	_, _ = conn.ExecContext(ctx, "ROLLBACK")
	if _, err := conn.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
		p.logger.Warn("dropping sandbox schema", "schema", schema, "error", err)
	}
	if _, err := conn.ExecContext(ctx, "RESET search_path"); err != nil {
		p.logger.Warn("resetting search_path", "error", err)
	}
}

// Close closes the pool and runs the cleanup hook.
func (p *Postgres) Close() error {
	err := p.db.Close()
	if p.cleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := p.cleanup(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
