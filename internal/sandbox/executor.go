// Package sandbox runs exercise SQL against disposable databases and reports
// what each statement did.
package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

const (
	defaultPreviewRows = 10
	maxCellWidth       = 120
)

// Options tunes an Executor.
type Options struct {
	Mode             evaluation.ExecutionMode
	StatementTimeout time.Duration
	PreviewRows      int
}

// Executor runs a file's statements in order on one pinned connection.
type Executor struct {
	provider Provider
	opts     Options
	logger   *slog.Logger
}

// queryer is satisfied by both *sql.Conn and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewExecutor creates an executor over provider.
func NewExecutor(provider Provider, opts Options, logger *slog.Logger) *Executor {
	if !opts.Mode.Valid() {
		opts.Mode = evaluation.ModeNonAtomic
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = defaultPreviewRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{provider: provider, opts: opts, logger: logger}
}

// Mode returns the isolation mode statements run under.
func (e *Executor) Mode() evaluation.ExecutionMode {
	return e.opts.Mode
}

// Execute splits sqlText and runs every statement. It never returns an error:
// statement and connection failures are recorded in the report.
func (e *Executor) Execute(ctx context.Context, sqlText string) *evaluation.ExecutionReport {
	start := time.Now()
	stmts := Split(sqlText)

	report := &evaluation.ExecutionReport{
		Mode:           e.opts.Mode,
		StatementCount: len(stmts),
		Statements:     make([]evaluation.StatementResult, 0, len(stmts)),
	}
	defer func() {
		finalize(report, time.Since(start))
	}()

	if len(stmts) == 0 {
		return report
	}

	conn, release, err := e.provider.Acquire(ctx)
	if err != nil {
		report.ConnectionError = fmt.Errorf("%w: %v", evaluation.ErrSandboxConnection, err).Error()
		e.logger.Warn("sandbox connection failed", "error", err)
		return report
	}
	defer release()

	if e.opts.Mode == evaluation.ModeAtomic {
		e.runAtomic(ctx, conn, stmts, report)
	} else {
		e.runEach(ctx, conn, stmts, report)
	}
	return report
}

func (e *Executor) runEach(ctx context.Context, conn *sql.Conn, stmts []string, report *evaluation.ExecutionReport) {
	for i, stmt := range stmts {
		res := e.runStatement(ctx, conn, i, stmt)
		if !res.Success {
			e.logger.Debug("statement failed", "index", i, "error", res.Error)
		}
		report.Statements = append(report.Statements, res)
	}
}

func (e *Executor) runAtomic(ctx context.Context, conn *sql.Conn, stmts []string, report *evaluation.ExecutionReport) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		report.ConnectionError = fmt.Errorf("%w: beginning transaction: %v", evaluation.ErrSandboxConnection, err).Error()
		return
	}

	for i, stmt := range stmts {
		if report.RolledBack {
			report.Statements = append(report.Statements, evaluation.StatementResult{
				Index:   i,
				SQL:     stmt,
				Kind:    kindOf(stmt),
				Skipped: true,
			})
			continue
		}

		res := e.runStatement(ctx, tx, i, stmt)
		report.Statements = append(report.Statements, res)
		if !res.Success {
			if err := tx.Rollback(); err != nil {
				e.logger.Warn("rolling back sandbox transaction", "error", err)
			}
			report.RolledBack = true
		}
	}

	if report.RolledBack {
		return
	}
	if err := tx.Commit(); err != nil {
		last := &report.Statements[len(report.Statements)-1]
		last.Success = false
		last.Error = fmt.Sprintf("commit: %v", err)
		report.RolledBack = true
	}
}

func (e *Executor) runStatement(ctx context.Context, q queryer, index int, stmt string) (res evaluation.StatementResult) {
	res = evaluation.StatementResult{Index: index, SQL: stmt, Kind: kindOf(stmt)}

	if e.opts.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StatementTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() { res.DurationMs = time.Since(start).Milliseconds() }()

	if res.Kind == evaluation.KindQuery {
		rows, err := q.QueryContext(ctx, stmt)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		defer rows.Close()

		p, err := collectPreview(rows, e.opts.PreviewRows)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Success = true
		res.Rows = p.total
		res.Columns = p.columns
		res.Preview = p.String()
		return res
	}

	result, err := q.ExecContext(ctx, stmt)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true

	n, err := result.RowsAffected()
	if err != nil {
		res.Warning = fmt.Sprintf("rows affected unavailable: %v", err)
		return res
	}
	res.RowsAffected = n
	if n == 0 {
		switch kw := leadingKeyword(stmt); kw {
		case "UPDATE", "DELETE":
			res.Warning = kw + " affected no rows"
		}
	}
	return res
}

func kindOf(stmt string) evaluation.StatementKind {
	if isQuery(stmt) {
		return evaluation.KindQuery
	}
	return evaluation.KindExec
}

// finalize fills the aggregate counters from the statement results.
func finalize(r *evaluation.ExecutionReport, elapsed time.Duration) {
	var out strings.Builder

	r.ErrorCount, r.WarningCount, r.ResultSets, r.RowsAffected = 0, 0, 0, 0
	if r.ConnectionError != "" {
		r.ErrorCount++
		fmt.Fprintf(&out, "CONNECTION ERROR: %s\n", r.ConnectionError)
	}

	for _, s := range r.Statements {
		fmt.Fprintf(&out, "-- [%d] %s\n", s.Index+1, headline(s.SQL))
		switch {
		case s.Skipped:
			out.WriteString("skipped after rollback\n")
		case !s.Success:
			r.ErrorCount++
			fmt.Fprintf(&out, "ERROR: %s\n", s.Error)
		case s.Kind == evaluation.KindQuery:
			r.ResultSets++
			if s.Preview != "" {
				out.WriteString(s.Preview)
			}
			fmt.Fprintf(&out, "(%d row%s)\n", s.Rows, plural(s.Rows))
		default:
			r.RowsAffected += s.RowsAffected
			fmt.Fprintf(&out, "%d row%s affected\n", s.RowsAffected, plural(s.RowsAffected))
		}
		if s.Warning != "" {
			r.WarningCount++
			fmt.Fprintf(&out, "WARNING: %s\n", s.Warning)
		}
	}

	r.Success = r.ErrorCount == 0
	r.Output = out.String()
	r.OutputLines = strings.Count(r.Output, "\n")
	r.ExecutionTimeMs = elapsed.Milliseconds()
}

func headline(stmt string) string {
	line := stmt
	for _, l := range strings.Split(stmt, "\n") {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "--") {
			line = l
			break
		}
	}
	return truncate(line, 80)
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
