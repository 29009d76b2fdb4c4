package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/sqlquest/internal/metrics"
	"github.com/swamp-dev/sqlquest/internal/store"
)

var (
	statusJSON   bool
	statusLowest int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored evaluation results",
	Long: `Status displays what the evaluation store knows.

It shows:
- The latest run and its totals
- Overall average score and grade distribution
- Per-quest averages
- The lowest scoring files

Examples:
  sqlquest status
  sqlquest status --lowest 10
  sqlquest status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
	statusCmd.Flags().IntVar(&statusLowest, "lowest", 5, "number of lowest scoring files to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Store.Path); os.IsNotExist(err) {
		return fmt.Errorf("no evaluation store found at %s\nRun 'sqlquest evaluate' first", cfg.Store.Path)
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()
	data, err := s.ExportStatusData(ctx, statusLowest)
	if err != nil {
		return fmt.Errorf("loading status data: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	summary, err := metrics.NewCollector(s).Summary(ctx)
	if err != nil {
		return fmt.Errorf("summarizing evaluations: %w", err)
	}
	printStatus(out, data, summary)
	return nil
}

func printStatus(w io.Writer, data *store.StatusData, summary string) {
	fmt.Fprintln(w, "=== sqlquest status ===")
	fmt.Fprintln(w)

	if run := data.LatestRun; run != nil {
		fmt.Fprintf(w, "Latest run: #%d %s %s (%s)\n", run.ID, statusIcon(run.Status), run.Target, run.Status)
		fmt.Fprintf(w, "Started:    %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if run.FinishedAt != nil {
			fmt.Fprintf(w, "Took:       %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
		}
		fmt.Fprintf(w, "Files:      %d | Succeeded: %d | Failed: %d | Cached: %d\n",
			run.TotalFiles, run.Succeeded, run.Failed, run.Cached)
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "No runs yet. Run 'sqlquest evaluate' to start.")
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, summary)

	if st := data.Stats; st != nil && st.Files > 0 {
		pct := float64(st.Evaluated) / float64(st.Files) * 100
		fmt.Fprintf(w, "Coverage: %s %5.1f%%\n", renderProgressBar(pct, 30), pct)
	}

	if len(data.Quests) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Quests ---")
		for _, q := range data.Quests {
			fmt.Fprintf(w, "  %-24s %3d/%-3d evaluated  avg %4.1f  failing %d\n",
				truncate(orDefault(q.Quest, "(root)"), 24), q.Evaluated, q.Files, q.AverageScore, q.Failing)
		}
	}

	if len(data.Lowest) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Lowest scores ---")
		for _, l := range data.Lowest {
			fmt.Fprintf(w, "  %2d %-2s %-10s %s\n", l.NumericScore, l.LetterGrade, l.Assessment, truncate(l.Path, 60))
		}
	}
}

func renderProgressBar(percent float64, width int) string {
	filled := int(percent / 100.0 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return "[" + bar + "]"
}

func statusIcon(status string) string {
	switch status {
	case "completed":
		return "✓"
	case "running":
		return "▶"
	case "failed":
		return "✗"
	default:
		return "○"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
