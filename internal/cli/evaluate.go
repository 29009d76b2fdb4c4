package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/swamp-dev/sqlquest/internal/journal"
	"github.com/swamp-dev/sqlquest/internal/retro"
	"github.com/swamp-dev/sqlquest/internal/supervisor"
)

var (
	evalNoCache bool
	evalForce   bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [target]",
	Short: "Evaluate quests, a single quest, or one SQL file",
	Long: `Evaluate runs exercise files in a sandbox database, analyzes them, and
stores the results.

The target is "all" (the default), the name or path of a quest directory
directly under the quests root, or the path of a single .sql file.

Files inside a quest run in batches of --max-concurrent with a pause between
batches; quests run one after another. A failing file never stops the run.

Examples:
  sqlquest evaluate
  sqlquest evaluate joins --max-concurrent 5
  sqlquest evaluate quests/joins/basics/01_inner.sql --force
  sqlquest evaluate all --mode atomic --no-cache`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().Int("max-concurrent", 0, "files evaluated at once within a quest")
	evaluateCmd.Flags().String("mode", "", "statement isolation (atomic, non_atomic)")
	evaluateCmd.Flags().String("root", "", "quests root directory")
	evaluateCmd.Flags().String("backend", "", "analysis backend (genai, agent, fallback)")
	evaluateCmd.Flags().BoolVar(&evalNoCache, "no-cache", false, "neither read nor write cached results")
	evaluateCmd.Flags().BoolVar(&evalForce, "force", false, "re-evaluate every file but refresh the cache")

	bindFlags(evaluateCmd.Flags(), map[string]string{
		"max-concurrent": "evaluation.max_concurrent_files",
		"mode":           "evaluation.mode",
		"root":           "quests.root",
		"backend":        "analysis.backend",
	})
}

// bindFlags routes flags through viper so they override the config file the
// same way SQLQUEST_* environment variables do.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if evalNoCache {
		cfg.Cache.Enabled = false
	}
	if evalForce {
		cfg.Cache.ShortCircuit = false
	}

	target := supervisor.TargetAll
	if len(args) == 1 {
		target = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("closing pipeline", "error", err)
		}
	}()

	summary, err := p.coordinator.EvaluateTarget(ctx, target)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Info("run interrupted by signal", "skipped", summary.Skipped)
	}

	report := retro.Analyze(summary, retro.Options{OfflineAnalysis: cfg.Analysis.Backend == "fallback"})

	out := cmd.OutOrStdout()
	printRunSummary(out, summary)
	printRetro(out, report)

	if path, err := journal.New(filepath.Join(cfg.Output.Dir, "_runs")).Record(summary, report); err != nil {
		logger.Warn("writing run report", "error", err)
	} else {
		fmt.Fprintf(out, "\nReport: %s\n", path)
	}
	return nil
}

func printRetro(w io.Writer, r *retro.Report) {
	if len(r.Patterns) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Patterns ---")
		for _, p := range r.Patterns {
			fmt.Fprintf(w, "  [%s] %s\n", p.Severity, p.Description)
		}
	}
	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Recommendations ---")
		for i, rec := range r.Recommendations {
			fmt.Fprintf(w, "  %d. [P%d] %s\n", i+1, rec.Priority, rec.Description)
		}
	}
}

func printRunSummary(w io.Writer, s *supervisor.RunSummary) {
	fmt.Fprintln(w, "=== sqlquest run ===")
	if s.RunID != 0 {
		fmt.Fprintf(w, "Run:       #%d (%s)\n", s.RunID, s.Target)
	} else {
		fmt.Fprintf(w, "Target:    %s\n", s.Target)
	}
	fmt.Fprintf(w, "Files:     %d | Succeeded: %d | Failed: %d | Cached: %d",
		s.TotalFiles, s.Succeeded, s.Failed, s.Cached)
	if s.Skipped > 0 {
		fmt.Fprintf(w, " | Skipped: %d", s.Skipped)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Success:   %s %.1f%%\n", renderProgressBar(s.SuccessRate*100, 30), s.SuccessRate*100)
	fmt.Fprintf(w, "Duration:  %s\n", s.Duration.Round(time.Millisecond))
	if s.StopReason != "" {
		fmt.Fprintf(w, "Stopped:   %s\n", s.StopReason)
	}

	if len(s.Quests) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Quests ---")
		for _, q := range s.Quests {
			fmt.Fprintf(w, "%s %-24s %3d files  %3d ok  %3d failed  %3d cached  batches %v\n",
				questIcon(q), truncate(orDefault(q.Quest, "(root)"), 24),
				q.Total(), q.Succeeded, q.Failed, q.Cached, q.Batches)
		}
	}

	if s.Tally.Fallbacks > 0 {
		fmt.Fprintf(w, "\nFallback analyses: %d\n", s.Tally.Fallbacks)
	}
	if top := s.Tally.TopErrors(); len(top) > 0 {
		parts := make([]string, 0, len(top))
		for _, class := range top {
			parts = append(parts, fmt.Sprintf("%s=%d", class, s.Tally.ErrorClasses[class]))
		}
		fmt.Fprintf(w, "Statement errors: %s\n", strings.Join(parts, " "))
	}

	var failures []string
	for _, q := range s.Quests {
		for _, o := range q.Outcomes {
			if o.Failure != nil {
				failures = append(failures, fmt.Sprintf("  ✗ %s [%s] %s",
					o.Failure.File.Key(), o.Failure.Stage, truncate(o.Failure.Message, 80)))
			}
		}
	}
	if len(failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Failures ---")
		for _, f := range failures {
			fmt.Fprintln(w, f)
		}
	}
}

func questIcon(q *supervisor.QuestResult) string {
	switch {
	case q.Skipped > 0:
		return "○"
	case q.Failed > 0:
		return "✗"
	default:
		return "✓"
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
