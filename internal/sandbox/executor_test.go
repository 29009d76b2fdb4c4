package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openFilePool returns a pool over a temp-file SQLite database with table t.
func openFilePool(t *testing.T) *Pool {
	t.Helper()
	pool, err := OpenPool("sqlite", filepath.Join(t.TempDir(), "sandbox.db"), 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })

	if _, err := pool.DB().Exec("CREATE TABLE t (x INTEGER NOT NULL)"); err != nil {
		t.Fatal(err)
	}
	return pool
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

const threeWithMiddleFailure = `
INSERT INTO t VALUES (1);
INSERT INTO missing_table VALUES (2);
INSERT INTO t VALUES (3);
`

func TestExecuteAtomicRollsBack(t *testing.T) {
	pool := openFilePool(t)
	ex := NewExecutor(pool, Options{Mode: evaluation.ModeAtomic}, testLogger())

	report := ex.Execute(context.Background(), threeWithMiddleFailure)

	if report.Success {
		t.Error("expected failure")
	}
	if report.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", report.ErrorCount)
	}
	if !report.RolledBack {
		t.Error("expected rollback")
	}
	if report.StatementCount != 3 || len(report.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d/%d", report.StatementCount, len(report.Statements))
	}
	if !report.Statements[2].Skipped {
		t.Error("statement after failure should be skipped")
	}
	if n := countRows(t, pool.DB()); n != 0 {
		t.Errorf("atomic failure left %d rows, want 0", n)
	}
}

func TestExecuteNonAtomicContinues(t *testing.T) {
	pool := openFilePool(t)
	ex := NewExecutor(pool, Options{Mode: evaluation.ModeNonAtomic}, testLogger())

	report := ex.Execute(context.Background(), threeWithMiddleFailure)

	if report.Success {
		t.Error("expected failure")
	}
	if report.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", report.ErrorCount)
	}
	if report.RowsAffected != 2 {
		t.Errorf("RowsAffected = %d, want 2", report.RowsAffected)
	}
	if n := countRows(t, pool.DB()); n != 2 {
		t.Errorf("non-atomic run left %d rows, want 2", n)
	}
	if report.Statements[1].Error == "" {
		t.Error("expected error recorded on statement 2")
	}
	if !strings.Contains(report.Output, "ERROR:") {
		t.Errorf("output should mention the error:\n%s", report.Output)
	}
}

func TestExecuteAtomicCommits(t *testing.T) {
	pool := openFilePool(t)
	ex := NewExecutor(pool, Options{Mode: evaluation.ModeAtomic}, testLogger())

	report := ex.Execute(context.Background(), "INSERT INTO t VALUES (1); INSERT INTO t VALUES (2);")
	if !report.Success {
		t.Fatalf("unexpected failure: %s", report.FirstError())
	}
	if n := countRows(t, pool.DB()); n != 2 {
		t.Errorf("expected 2 committed rows, got %d", n)
	}
}

func TestExecuteEmptyInput(t *testing.T) {
	for _, mode := range []evaluation.ExecutionMode{evaluation.ModeAtomic, evaluation.ModeNonAtomic} {
		t.Run(string(mode), func(t *testing.T) {
			ex := NewExecutor(NewEphemeralSQLite(), Options{Mode: mode}, testLogger())
			for _, in := range []string{"", "   ", "-- nothing here\n;"} {
				report := ex.Execute(context.Background(), in)
				if !report.Success {
					t.Errorf("Execute(%q) should succeed", in)
				}
				if report.StatementCount != 0 || report.ErrorCount != 0 {
					t.Errorf("Execute(%q): statements=%d errors=%d", in, report.StatementCount, report.ErrorCount)
				}
			}
		})
	}
}

func TestExecuteQueryPreview(t *testing.T) {
	ex := NewExecutor(NewEphemeralSQLite(), Options{Mode: evaluation.ModeNonAtomic}, testLogger())

	sqlText := `
CREATE TABLE n (v INTEGER, label TEXT);
INSERT INTO n
WITH RECURSIVE seq(v) AS (SELECT 1 UNION ALL SELECT v + 1 FROM seq WHERE v < 12)
SELECT v, 'row ' || v FROM seq;
SELECT v, label FROM n ORDER BY v;
`
	report := ex.Execute(context.Background(), sqlText)
	if !report.Success {
		t.Fatalf("unexpected failure: %s", report.FirstError())
	}
	if report.ResultSets != 1 {
		t.Errorf("ResultSets = %d, want 1", report.ResultSets)
	}

	sel := report.Statements[2]
	if sel.Rows != 12 {
		t.Errorf("Rows = %d, want 12", sel.Rows)
	}
	if !strings.Contains(sel.Preview, "label") || !strings.Contains(sel.Preview, "row 10") {
		t.Errorf("preview missing header or rows:\n%s", sel.Preview)
	}
	if strings.Contains(sel.Preview, "row 11") {
		t.Error("preview should stop at 10 rows")
	}
	if !strings.Contains(sel.Preview, "2 more rows") {
		t.Errorf("preview should note hidden rows:\n%s", sel.Preview)
	}
	if report.OutputLines == 0 {
		t.Error("expected output lines")
	}
}

func TestExecuteZeroRowUpdateWarns(t *testing.T) {
	ex := NewExecutor(NewEphemeralSQLite(), Options{}, testLogger())

	report := ex.Execute(context.Background(), "CREATE TABLE t (x INT); UPDATE t SET x = 1 WHERE x = 99;")
	if !report.Success {
		t.Fatalf("unexpected failure: %s", report.FirstError())
	}
	if report.WarningCount != 1 {
		t.Errorf("WarningCount = %d, want 1", report.WarningCount)
	}
	if report.Statements[1].Warning == "" {
		t.Error("expected warning on UPDATE")
	}
}

func TestEphemeralIsolation(t *testing.T) {
	ex := NewExecutor(NewEphemeralSQLite(), Options{}, testLogger())

	if r := ex.Execute(context.Background(), "CREATE TABLE shared (x INT);"); !r.Success {
		t.Fatal(r.FirstError())
	}
	// A second file gets a fresh database, so the table is gone.
	r := ex.Execute(context.Background(), "SELECT * FROM shared;")
	if r.Success {
		t.Error("table from a previous file should not be visible")
	}
}

type failingProvider struct{}

func (failingProvider) Acquire(context.Context) (*sql.Conn, func(), error) {
	return nil, nil, errors.New("connection refused")
}

func (failingProvider) Close() error { return nil }

func TestExecuteConnectionFailure(t *testing.T) {
	ex := NewExecutor(failingProvider{}, Options{}, testLogger())

	report := ex.Execute(context.Background(), "SELECT 1;")
	if report.Success {
		t.Error("expected failure")
	}
	if report.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", report.ErrorCount)
	}
	if !strings.Contains(report.ConnectionError, "connection refused") {
		t.Errorf("ConnectionError = %q", report.ConnectionError)
	}
	if report.FirstError() != report.ConnectionError {
		t.Error("FirstError should report the connection error")
	}
}

func TestSchemaName(t *testing.T) {
	a, b := SchemaName(), SchemaName()
	if a == b {
		t.Error("schema names should be unique")
	}
	if !strings.HasPrefix(a, "sandbox_") || strings.Contains(a, "-") {
		t.Errorf("unexpected schema name %q", a)
	}
}

func TestWithBusyTimeout(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/tmp/s.db", "/tmp/s.db?_pragma=busy_timeout(5000)"},
		{"file:s.db?mode=rwc", "file:s.db?mode=rwc&_pragma=busy_timeout(5000)"},
		{"s.db?_pragma=busy_timeout(100)", "s.db?_pragma=busy_timeout(100)"},
	}
	for _, tt := range tests {
		if got := withBusyTimeout(tt.in); got != tt.want {
			t.Errorf("withBusyTimeout(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSharedPoolWaitsForLocks(t *testing.T) {
	pool, err := OpenPool("sqlite", filepath.Join(t.TempDir(), "shared.db"), 3)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		conn, release, err := pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		var ms int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&ms); err != nil {
			t.Fatal(err)
		}
		if ms != busyTimeoutMs {
			t.Errorf("connection %d busy_timeout = %d, want %d", i, ms, busyTimeoutMs)
		}
		defer release()
	}
}
