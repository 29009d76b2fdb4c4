// Package evaluator runs the full pipeline for one exercise file: cache
// lookup, sandbox execution, analysis, persistence, and cache write.
package evaluator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/swamp-dev/sqlquest/internal/analysis"
	"github.com/swamp-dev/sqlquest/internal/cache"
	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/store"
)

// Repository persists evaluations. *store.Store satisfies it.
type Repository interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	SaveFile(ctx context.Context, q store.Querier, file *evaluation.SQLFile) (int64, error)
	Upsert(ctx context.Context, q store.Querier, fileID int64, result *evaluation.Result) (*store.Evaluation, error)
}

// ResultCache is the content-hash keyed result cache. *cache.Cache satisfies it.
type ResultCache interface {
	Get(file *evaluation.SQLFile) (*evaluation.Result, bool)
	Put(file *evaluation.SQLFile, result *evaluation.Result) error
}

// Executor runs a file's SQL in the sandbox. *sandbox.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, sqlText string) *evaluation.ExecutionReport
}

// Deps are the collaborators an Evaluator needs. Cache may be nil.
type Deps struct {
	Repo     Repository
	Cache    ResultCache
	Executor Executor
	Analyzer analysis.Analyzer
	Logger   *slog.Logger
}

// Evaluator evaluates one file at a time and is safe for concurrent use.
type Evaluator struct {
	repo     Repository
	cache    ResultCache
	executor Executor
	analyzer analysis.Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an evaluator.
func New(deps Deps) (*Evaluator, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("evaluator requires a repository")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("evaluator requires an executor")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.Static{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Evaluator{
		repo:     deps.Repo,
		cache:    deps.Cache,
		executor: deps.Executor,
		analyzer: deps.Analyzer,
		logger:   deps.Logger,
		now:      time.Now,
	}, nil
}

// Evaluate runs file through the pipeline. It never panics and never returns
// an error: every problem is reported as a Failure outcome.
func (e *Evaluator) Evaluate(ctx context.Context, file *evaluation.SQLFile) (out evaluation.Outcome) {
	stage := evaluation.StageExecute
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panicked",
				"file", file.Key(),
				"stage", stage,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = evaluation.Fail(*file, stage, fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	logger := e.logger.With("file", file.Key())

	data, err := os.ReadFile(file.Path)
	if err != nil {
		logger.Warn("reading file", "error", err)
		return evaluation.Fail(*file, stage, fmt.Errorf("reading file: %w", err))
	}
	file.Hash = cache.HashContent(data)
	if info, err := os.Stat(file.Path); err == nil {
		file.ModTime = info.ModTime()
	}

	if e.cache != nil {
		if cached, ok := e.cache.Get(file); ok {
			logger.Debug("cache hit", "hash", file.Hash[:12])
			cached.File = *file
			return evaluation.Succeed(cached)
		}
	}

	report := e.executor.Execute(ctx, string(data))
	if report.ConnectionError != "" {
		logger.Warn("sandbox unavailable, analyzing failure report", "error", report.ConnectionError)
	}

	stage = evaluation.StageAnalyze
	a, err := e.analyzer.Analyze(ctx, analysis.Request{File: *file, SQL: string(data), Execution: report})
	if err != nil {
		logger.Warn("analysis failed, using fallback", "error", err)
		a = analysis.Fallback(analysisReason(err))
	}

	score := evaluation.ClampScore(a.NumericScore)
	result := &evaluation.Result{
		File:         *file,
		Execution:    *report,
		Analysis:     *a,
		Assessment:   evaluation.Assess(score, report.Success),
		NumericScore: score,
		LetterGrade:  evaluation.NormalizeGrade(a.LetterGrade, score),
		EvaluatedAt:  e.now().UTC(),
	}

	stage = evaluation.StagePersist
	if err := e.persist(ctx, file, result); err != nil {
		logger.Error("persisting evaluation", "error", err)
		return evaluation.Fail(*file, stage, err)
	}

	if e.cache != nil {
		if err := e.cache.Put(file, result); err != nil {
			logger.Warn("writing cache entry", "error", err)
		}
	}

	logger.Info("evaluated file",
		"score", result.NumericScore,
		"grade", result.LetterGrade,
		"assessment", result.Assessment,
		"execution_success", report.Success,
		"fallback", a.Fallback,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return evaluation.Succeed(result)
}

// persist writes the file and its evaluation in one transaction.
func (e *Evaluator) persist(ctx context.Context, file *evaluation.SQLFile, result *evaluation.Result) error {
	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", evaluation.ErrPersistence, err)
	}
	defer tx.Rollback()

	fileID, err := e.repo.SaveFile(ctx, tx, file)
	if err != nil {
		return fmt.Errorf("%w: %v", evaluation.ErrPersistence, err)
	}
	if _, err := e.repo.Upsert(ctx, tx, fileID, result); err != nil {
		return fmt.Errorf("%w: %v", evaluation.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %v", evaluation.ErrPersistence, err)
	}
	return nil
}

func analysisReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "analysis timed out"
	case errors.Is(err, context.Canceled):
		return "analysis cancelled"
	default:
		return err.Error()
	}
}
