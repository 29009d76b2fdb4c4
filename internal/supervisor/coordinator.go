package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swamp-dev/sqlquest/internal/discovery"
	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/metrics"
	"github.com/swamp-dev/sqlquest/internal/store"
)

// Run statuses recorded in the store.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// TargetAll evaluates every quest under the root.
const TargetAll = "all"

// RunRecorder records run rows. *store.Store satisfies it.
type RunRecorder interface {
	CreateRun(ctx context.Context, target, configJSON string) (int64, error)
	FinishRun(ctx context.Context, id int64, status string, totals store.RunTotals) error
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	RunID          int64
	Target         string
	Quests         []*QuestResult
	TotalFiles     int
	Succeeded      int
	Failed         int
	Cached         int
	Skipped        int
	SuccessRate    float64
	BudgetExceeded bool
	StopReason     string
	Duration       time.Duration
	Tally          metrics.TallySnapshot
}

// Totals returns the counts stored on the run row.
func (s *RunSummary) Totals() store.RunTotals {
	return store.RunTotals{
		TotalFiles: s.TotalFiles,
		Succeeded:  s.Succeeded,
		Failed:     s.Failed,
		Cached:     s.Cached,
	}
}

// Coordinator drives runs across quests.
type Coordinator struct {
	opts       Options
	root       string
	discoverer *discovery.Discoverer
	scheduler  *QuestScheduler
	runs       RunRecorder
	questPacer Pacer
	configJSON string
	logger     *slog.Logger
}

// CoordinatorDeps are the collaborators of a Coordinator. Runs may be nil.
type CoordinatorDeps struct {
	Scheduler  *QuestScheduler
	Runs       RunRecorder
	QuestPacer Pacer
	Logger     *slog.Logger

	// Config is recorded on the run row.
	Config any
}

// NewCoordinator creates a coordinator for the quests under root.
func NewCoordinator(root string, opts Options, deps CoordinatorDeps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.QuestPacer == nil {
		deps.QuestPacer = FixedDelay{Delay: opts.QuestDelay}
	}
	var cfgJSON string
	if deps.Config != nil {
		if data, err := json.Marshal(deps.Config); err == nil {
			cfgJSON = string(data)
		}
	}
	return &Coordinator{
		opts:       opts,
		root:       root,
		discoverer: discovery.New(opts.Exclude),
		scheduler:  deps.Scheduler,
		runs:       deps.Runs,
		questPacer: deps.QuestPacer,
		configJSON: cfgJSON,
		logger:     deps.Logger,
	}
}

// EvaluateTarget evaluates "all", one quest directory, or a single .sql file.
func (c *Coordinator) EvaluateTarget(ctx context.Context, target string) (*RunSummary, error) {
	if target == "" || target == TargetAll {
		return c.EvaluateAll(ctx)
	}

	path := target
	if !filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(c.root, target)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: target %s: %v", evaluation.ErrDiscovery, target, err)
	}

	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(path), ".sql") {
			return nil, fmt.Errorf("%w: %s is not a .sql file", evaluation.ErrDiscovery, target)
		}
		file, err := discovery.Describe(c.root, path)
		if err != nil {
			return nil, err
		}
		return c.run(ctx, target, []discovery.Quest{{
			Name:          file.Quest,
			Subcategories: []discovery.Subcategory{{Name: file.Subcategory, Files: []*evaluation.SQLFile{file}}},
		}})
	}

	absRoot, _ := filepath.Abs(c.root)
	absPath, _ := filepath.Abs(path)
	if absPath == absRoot {
		return c.EvaluateAll(ctx)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") || strings.Contains(filepath.ToSlash(rel), "/") {
		return nil, fmt.Errorf("%w: %s is not a quest directory under %s", evaluation.ErrDiscovery, target, c.root)
	}

	quest, err := c.discoverer.Quest(c.root, rel)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, target, []discovery.Quest{*quest})
}

// EvaluateAll discovers every quest under the root and evaluates them in
// order. Only a discovery failure is returned as an error.
func (c *Coordinator) EvaluateAll(ctx context.Context) (*RunSummary, error) {
	quests, err := c.discoverer.Discover(c.root)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, TargetAll, quests)
}

// run evaluates quests strictly one after another.
func (c *Coordinator) run(ctx context.Context, target string, quests []discovery.Quest) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{Target: target}
	tally := metrics.NewTally()
	budget := metrics.NewBudgetEnforcer(c.opts.Budget)

	total := 0
	for i := range quests {
		total += quests[i].FileCount()
	}
	c.logger.Info("starting run", "target", target, "quests", len(quests), "files", total)

	if c.runs != nil {
		id, err := c.runs.CreateRun(ctx, target, c.configJSON)
		if err != nil {
			c.logger.Warn("recording run start", "error", err)
		}
		summary.RunID = id
	}

	for i, quest := range quests {
		if ctx.Err() != nil {
			summary.StopReason = "cancelled"
			break
		}

		status := budget.Check(summary.TotalFiles)
		if status.Exceeded {
			summary.BudgetExceeded = true
			summary.StopReason = status.Reason
			c.logger.Warn("stopping: budget exceeded", "reason", status.Reason)
			break
		}
		if status.Warning {
			c.logger.Warn("budget warning", "reason", status.Reason)
		}

		if i > 0 {
			if err := c.questPacer.Wait(ctx); err != nil {
				summary.StopReason = "cancelled"
				break
			}
		}

		files := quest.Files()
		if remaining := budget.Remaining(summary.TotalFiles); remaining >= 0 && len(files) > remaining {
			c.logger.Warn("truncating quest to fit file budget", "quest", quest.Name, "files", len(files), "allowed", remaining)
			files = files[:remaining]
			summary.BudgetExceeded = true
			summary.StopReason = fmt.Sprintf("file budget exceeded: %d/%d", summary.TotalFiles+remaining, c.opts.Budget.MaxFiles)
		}

		qr := c.scheduler.EvaluateFiles(ctx, quest.Name, files)
		summary.Quests = append(summary.Quests, qr)
		summary.TotalFiles += qr.Total()
		summary.Succeeded += qr.Succeeded
		summary.Failed += qr.Failed
		summary.Cached += qr.Cached
		summary.Skipped += qr.Skipped
		for _, o := range qr.Outcomes {
			tally.Add(o)
		}
	}

	if summary.StopReason == "" && ctx.Err() != nil {
		summary.StopReason = "cancelled"
	}
	if summary.TotalFiles > 0 {
		summary.SuccessRate = float64(summary.Succeeded) / float64(summary.TotalFiles)
	}
	summary.Duration = time.Since(start)
	summary.Tally = tally.Snapshot()

	if c.runs != nil && summary.RunID != 0 {
		runStatus := RunCompleted
		if summary.StopReason == "cancelled" {
			runStatus = RunFailed
		}
		if err := c.runs.FinishRun(context.WithoutCancel(ctx), summary.RunID, runStatus, summary.Totals()); err != nil {
			c.logger.Warn("recording run finish", "error", err)
		}
	}

	c.logger.Info("run finished",
		"target", target,
		"files", summary.TotalFiles,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"cached", summary.Cached,
		"success_rate", fmt.Sprintf("%.1f%%", summary.SuccessRate*100),
		"duration", summary.Duration.Round(time.Millisecond),
	)
	return summary, nil
}
