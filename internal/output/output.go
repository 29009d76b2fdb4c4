// Package output writes per-file and per-quest JSON artifacts under the
// output root.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// SummaryFile is the per-quest summary artifact name.
const SummaryFile = "_summary.json"

// rootQuest names the directory for files that sit directly under the
// quests root.
const rootQuest = "_root"

// FileArtifact is the JSON document written for each evaluated file.
type FileArtifact struct {
	Path    string              `json:"path"`
	Quest   string              `json:"quest"`
	Status  string              `json:"status"` // evaluated, cached, failed
	Result  *evaluation.Result  `json:"result,omitempty"`
	Failure *evaluation.Failure `json:"failure,omitempty"`
	Written time.Time           `json:"written_at"`
}

// QuestSummary is the JSON document written once a quest finishes.
type QuestSummary struct {
	Quest        string               `json:"quest"`
	TotalFiles   int                  `json:"total_files"`
	Succeeded    int                  `json:"succeeded"`
	Failed       int                  `json:"failed"`
	Cached       int                  `json:"cached"`
	SuccessRate  float64              `json:"success_rate"`
	AverageScore float64              `json:"average_score"`
	Batches      []int                `json:"batches"`
	DurationMs   int64                `json:"duration_ms"`
	Failures     []evaluation.Failure `json:"failures,omitempty"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// Writer places artifacts under a root directory.
type Writer struct {
	root string
}

// NewWriter creates a writer rooted at root.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Root returns the output root.
func (w *Writer) Root() string {
	return w.root
}

// FilePath returns <root>/<quest>/<path below the quest>.json for file, so
// nested folders inside a subcategory keep distinct artifacts.
func (w *Writer) FilePath(file evaluation.SQLFile) string {
	if file.RelPath != "" {
		rel := file.RelPath
		if file.Quest != "" {
			rel = strings.TrimPrefix(rel, file.Quest+"/")
		}
		rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".json"
		return filepath.Join(w.root, questDir(file.Quest), filepath.FromSlash(rel))
	}

	parts := []string{w.root, questDir(file.Quest)}
	if file.Subcategory != "" {
		parts = append(parts, file.Subcategory)
	}
	parts = append(parts, file.Stem()+".json")
	return filepath.Join(parts...)
}

// WriteOutcome writes the artifact for one file and returns its path.
func (w *Writer) WriteOutcome(out evaluation.Outcome) (string, error) {
	file := out.File()
	artifact := FileArtifact{
		Path:    file.Key(),
		Quest:   file.Quest,
		Result:  out.Result,
		Failure: out.Failure,
		Written: time.Now().UTC(),
	}
	switch {
	case out.Result != nil && out.Result.Cached:
		artifact.Status = "cached"
	case out.Result != nil:
		artifact.Status = "evaluated"
	default:
		artifact.Status = "failed"
	}

	path := w.FilePath(file)
	if err := writeJSON(path, artifact); err != nil {
		return "", fmt.Errorf("writing output for %s: %w", file.Key(), err)
	}
	return path, nil
}

// WriteQuestSummary writes <root>/<quest>/_summary.json.
func (w *Writer) WriteQuestSummary(summary *QuestSummary) (string, error) {
	if summary.GeneratedAt.IsZero() {
		summary.GeneratedAt = time.Now().UTC()
	}
	path := filepath.Join(w.root, questDir(summary.Quest), SummaryFile)
	if err := writeJSON(path, summary); err != nil {
		return "", fmt.Errorf("writing summary for %s: %w", summary.Quest, err)
	}
	return path, nil
}

// ReadQuestSummary loads a summary written by WriteQuestSummary.
func (w *Writer) ReadQuestSummary(quest string) (*QuestSummary, error) {
	data, err := os.ReadFile(filepath.Join(w.root, questDir(quest), SummaryFile))
	if err != nil {
		return nil, err
	}
	var s QuestSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing summary for %s: %w", quest, err)
	}
	return &s, nil
}

func questDir(quest string) string {
	if quest == "" {
		return rootQuest
	}
	return quest
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	return nil
}
