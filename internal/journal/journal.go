// Package journal writes a markdown report for each finished run so results
// can be read without the database.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/retro"
	"github.com/swamp-dev/sqlquest/internal/supervisor"
)

// Journal stores run reports under a directory.
type Journal struct {
	dir string
	now func() time.Time
}

// New creates a journal rooted at dir.
func New(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

// Dir returns the directory reports are written to.
func (j *Journal) Dir() string {
	return j.dir
}

// Path returns where the report for runID is written. Runs without a
// recorded ID are named by timestamp.
func (j *Journal) Path(runID int64) string {
	name := fmt.Sprintf("run-%d.md", runID)
	if runID == 0 {
		name = "run-" + j.now().UTC().Format("20060102-150405") + ".md"
	}
	return filepath.Join(j.dir, name)
}

// Record renders the run and writes it, returning the file path.
func (j *Journal) Record(summary *supervisor.RunSummary, report *retro.Report) (string, error) {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating journal dir: %w", err)
	}
	path := j.Path(summary.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(j.Render(summary, report)), 0o644); err != nil {
		return "", fmt.Errorf("writing run report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing run report: %w", err)
	}
	return path, nil
}

// Render formats a run and its retrospective as markdown. report may be nil.
func (j *Journal) Render(summary *supervisor.RunSummary, report *retro.Report) string {
	var sb strings.Builder

	if summary.RunID != 0 {
		sb.WriteString(fmt.Sprintf("# Run %d: %s\n", summary.RunID, summary.Target))
	} else {
		sb.WriteString(fmt.Sprintf("# Run: %s\n", summary.Target))
	}
	sb.WriteString(fmt.Sprintf("**%s | %s", j.now().Format("2006-01-02 15:04"), summary.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf(" | Success: %.1f%%", summary.SuccessRate*100))
	if summary.Tally.AverageScore > 0 {
		sb.WriteString(fmt.Sprintf(" | Average score: %.1f", summary.Tally.AverageScore))
	}
	sb.WriteString("**\n\n")

	sb.WriteString("| Files | Succeeded | Failed | Cached | Skipped |\n")
	sb.WriteString("|------:|----------:|-------:|-------:|--------:|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %d |\n",
		summary.TotalFiles, summary.Succeeded, summary.Failed, summary.Cached, summary.Skipped))
	if summary.StopReason != "" {
		sb.WriteString(fmt.Sprintf("\nStopped early: %s\n", summary.StopReason))
	}

	if len(summary.Quests) > 0 {
		sb.WriteString("\n## Quests\n\n")
		for _, q := range summary.Quests {
			sb.WriteString(RenderQuest(q))
		}
	}

	if report != nil && len(report.Patterns) > 0 {
		sb.WriteString("\n## Patterns\n\n")
		for _, p := range report.Patterns {
			sb.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", p.Type, p.Severity, p.Description))
		}
	}
	if report != nil && len(report.Recommendations) > 0 {
		sb.WriteString("\n## Recommendations\n\n")
		for i, r := range report.Recommendations {
			sb.WriteString(fmt.Sprintf("%d. [P%d] %s\n", i+1, r.Priority, r.Description))
		}
	}

	return sb.String()
}

// RenderQuest formats one quest section, listing every file it evaluated.
func RenderQuest(q *supervisor.QuestResult) string {
	var sb strings.Builder

	name := q.Quest
	if name == "" {
		name = "(root)"
	}
	sb.WriteString(fmt.Sprintf("### %s\n", name))
	sb.WriteString(fmt.Sprintf("%d succeeded, %d failed, %d cached", q.Succeeded, q.Failed, q.Cached))
	if q.Skipped > 0 {
		sb.WriteString(fmt.Sprintf(", %d skipped", q.Skipped))
	}
	sb.WriteString("\n\n")

	for _, o := range q.Outcomes {
		sb.WriteString(renderOutcome(o))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderOutcome(o evaluation.Outcome) string {
	file := o.File()
	if o.Failure != nil {
		return fmt.Sprintf("- ✗ `%s` failed at %s: %s\n", file.Key(), o.Failure.Stage, o.Failure.Message)
	}

	r := o.Result
	line := fmt.Sprintf("- `%s` %s (%d/10, %s)", file.Key(), r.LetterGrade, r.NumericScore, r.Assessment)
	var notes []string
	if r.Cached {
		notes = append(notes, "cached")
	}
	if r.Analysis.Fallback {
		notes = append(notes, "fallback analysis")
	}
	if msg := r.Execution.FirstError(); msg != "" {
		notes = append(notes, "error: "+msg)
	}
	if len(notes) > 0 {
		line += " _" + strings.Join(notes, "; ") + "_"
	}
	return line + "\n"
}
