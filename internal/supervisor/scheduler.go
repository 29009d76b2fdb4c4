package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swamp-dev/sqlquest/internal/discovery"
	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/output"
)

// FileEvaluator evaluates a single file. *evaluator.Evaluator satisfies it.
// Tests can provide a mock implementation.
type FileEvaluator interface {
	Evaluate(ctx context.Context, file *evaluation.SQLFile) evaluation.Outcome
}

// OutcomeWriter persists per-file and per-quest artifacts. *output.Writer
// satisfies it.
type OutcomeWriter interface {
	WriteOutcome(out evaluation.Outcome) (string, error)
	WriteQuestSummary(summary *output.QuestSummary) (string, error)
}

// QuestResult captures the outcome of one quest.
type QuestResult struct {
	Quest     string
	Outcomes  []evaluation.Outcome // input order; files never started are absent
	Succeeded int
	Failed    int
	Cached    int
	Skipped   int // files not started because the context ended
	Batches   []int
	Pauses    int
	Duration  time.Duration
}

// Total returns the number of files that produced an outcome.
func (r *QuestResult) Total() int {
	return len(r.Outcomes)
}

// Summary converts the result into the artifact written beside the files.
func (r *QuestResult) Summary() *output.QuestSummary {
	s := &output.QuestSummary{
		Quest:      r.Quest,
		TotalFiles: len(r.Outcomes),
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Cached:     r.Cached,
		Batches:    r.Batches,
		DurationMs: r.Duration.Milliseconds(),
	}
	if s.TotalFiles > 0 {
		s.SuccessRate = float64(r.Succeeded) / float64(s.TotalFiles)
	}
	sum := 0
	for _, o := range r.Outcomes {
		if o.Result != nil {
			sum += o.Result.NumericScore
		}
		if o.Failure != nil {
			s.Failures = append(s.Failures, *o.Failure)
		}
	}
	if r.Succeeded > 0 {
		s.AverageScore = float64(sum) / float64(r.Succeeded)
	}
	return s
}

// QuestScheduler runs a quest's files in fixed-size batches. Files inside a
// batch run concurrently; batches run one after another with a pacer wait
// between them.
type QuestScheduler struct {
	eval      FileEvaluator
	writer    OutcomeWriter
	pacer     Pacer
	batchSize int
	logger    *slog.Logger
}

// NewQuestScheduler creates a scheduler. writer may be nil. A nil pacer
// means no pause between batches.
func NewQuestScheduler(eval FileEvaluator, writer OutcomeWriter, pacer Pacer, batchSize int, logger *slog.Logger) *QuestScheduler {
	if batchSize < 1 {
		batchSize = 1
	}
	if pacer == nil {
		pacer = FixedDelay{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestScheduler{
		eval:      eval,
		writer:    writer,
		pacer:     pacer,
		batchSize: batchSize,
		logger:    logger,
	}
}

// EvaluateQuest evaluates every file of quest.
func (s *QuestScheduler) EvaluateQuest(ctx context.Context, quest discovery.Quest) *QuestResult {
	return s.EvaluateFiles(ctx, quest.Name, quest.Files())
}

// EvaluateFiles evaluates files as one quest named name. It never returns an
// error: per-file problems become failure outcomes and cancellation leaves
// the remaining files unstarted.
func (s *QuestScheduler) EvaluateFiles(ctx context.Context, name string, files []*evaluation.SQLFile) *QuestResult {
	start := time.Now()
	result := &QuestResult{Quest: name}
	batches := partition(files, s.batchSize)

	s.logger.Info("starting quest",
		"quest", name,
		"files", len(files),
		"batches", len(batches),
		"batch_size", s.batchSize,
	)

	for i, batch := range batches {
		if ctx.Err() != nil {
			result.Skipped += countRemaining(batches[i:])
			s.logger.Warn("quest interrupted", "quest", name, "skipped", result.Skipped)
			break
		}

		outcomes := s.runBatch(ctx, batch)
		result.Batches = append(result.Batches, len(batch))
		for _, o := range outcomes {
			result.Outcomes = append(result.Outcomes, o)
			switch {
			case o.Failure != nil:
				result.Failed++
			case o.Result.Cached:
				result.Succeeded++
				result.Cached++
			default:
				result.Succeeded++
			}
		}

		if obs, ok := s.pacer.(batchObserver); ok {
			obs.ObserveBatch(outcomes)
		}

		s.logger.Debug("batch finished", "quest", name, "batch", i+1, "of", len(batches), "files", len(batch))

		if i == len(batches)-1 {
			break
		}
		if err := s.pacer.Wait(ctx); err != nil {
			result.Skipped += countRemaining(batches[i+1:])
			s.logger.Warn("quest interrupted", "quest", name, "skipped", result.Skipped)
			break
		}
		result.Pauses++
	}

	result.Duration = time.Since(start)

	if s.writer != nil && len(result.Outcomes) > 0 {
		if _, err := s.writer.WriteQuestSummary(result.Summary()); err != nil {
			s.logger.Warn("writing quest summary", "quest", name, "error", err)
		}
	}

	s.logger.Info("quest finished",
		"quest", name,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"cached", result.Cached,
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result
}

// runBatch evaluates batch concurrently and returns outcomes in batch order.
func (s *QuestScheduler) runBatch(ctx context.Context, batch []*evaluation.SQLFile) []evaluation.Outcome {
	outcomes := make([]evaluation.Outcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchSize)
	for i, file := range batch {
		g.Go(func() error {
			outcomes[i] = s.evaluateOne(gctx, file)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// evaluateOne evaluates file, converts a panic into a failure, and writes the
// file's artifact.
func (s *QuestScheduler) evaluateOne(ctx context.Context, file *evaluation.SQLFile) (out evaluation.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("file evaluation panicked",
				"file", file.Key(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = evaluation.Fail(*file, evaluation.StageExecute, fmt.Errorf("panic: %v", r))
		}
		s.write(out)
	}()

	out = s.eval.Evaluate(ctx, file)
	if out.Failure != nil {
		s.logger.Warn("file failed",
			"file", file.Key(),
			"stage", out.Failure.Stage,
			"error", out.Failure.Message,
		)
	}
	return out
}

func (s *QuestScheduler) write(out evaluation.Outcome) {
	if s.writer == nil {
		return
	}
	if _, err := s.writer.WriteOutcome(out); err != nil {
		file := out.File()
		s.logger.Warn("writing file output", "file", file.Key(), "error", err)
	}
}

// partition splits files into consecutive batches of at most size.
func partition(files []*evaluation.SQLFile, size int) [][]*evaluation.SQLFile {
	var batches [][]*evaluation.SQLFile
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		batches = append(batches, files[start:end])
	}
	return batches
}

func countRemaining(batches [][]*evaluation.SQLFile) int {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	return n
}
