// Package retro looks back over a finished run and detects patterns worth
// acting on before the next one.
package retro

import (
	"fmt"
	"sort"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/metrics"
	"github.com/swamp-dev/sqlquest/internal/supervisor"
)

// PatternType categorizes detected patterns.
type PatternType string

const (
	PatternFailingQuest    PatternType = "failing_quest"
	PatternRecurringError  PatternType = "recurring_error"
	PatternAnalysisOutage  PatternType = "analysis_outage"
	PatternLowScores       PatternType = "low_scores"
	PatternStuck           PatternType = "stuck"
	PatternBudgetExhausted PatternType = "budget_exhausted"
)

// Pattern represents a detected pattern in the run data.
type Pattern struct {
	Type        PatternType        `json:"type"`
	Description string             `json:"description"`
	Quest       string             `json:"quest,omitempty"`
	Files       []string           `json:"files,omitempty"`
	ErrorClass  metrics.ErrorClass `json:"error_class,omitempty"`
	Stage       evaluation.Stage   `json:"stage,omitempty"`
	Severity    string             `json:"severity"` // high, medium, low
}

// RecommendationType categorizes follow-up actions.
type RecommendationType string

const (
	RecCheckAnalysis RecommendationType = "check_analysis"
	RecReviewQuest   RecommendationType = "review_quest"
	RecFixExercises  RecommendationType = "fix_exercises"
	RecCheckStorage  RecommendationType = "check_storage"
	RecRerunForced   RecommendationType = "rerun_forced"
	RecRaiseBudget   RecommendationType = "raise_budget"
)

// Recommendation is a suggested action based on detected patterns.
type Recommendation struct {
	Action      RecommendationType `json:"action"`
	Quest       string             `json:"quest,omitempty"`
	Description string             `json:"description"`
	Priority    int                `json:"priority"` // 1=highest
}

// Report summarizes a run's results.
type Report struct {
	RunID           int64            `json:"run_id"`
	Target          string           `json:"target"`
	Files           int              `json:"files"`
	Succeeded       int              `json:"succeeded"`
	Failed          int              `json:"failed"`
	Cached          int              `json:"cached"`
	Skipped         int              `json:"skipped"`
	SuccessRate     float64          `json:"success_rate"`
	AverageScore    float64          `json:"average_score"`
	Fallbacks       int              `json:"fallbacks"`
	Patterns        []Pattern        `json:"patterns"`
	Recommendations []Recommendation `json:"recommendations"`
	Duration        time.Duration    `json:"duration"`
}

// Thresholds for pattern detection.
const (
	failingQuestMin     = 2
	recurringErrorMin   = 3
	lowScoreAverage     = 5.0
	stuckConsecutive    = 3
	outageFallbackShare = 0.5
)

// Options tune detection.
type Options struct {
	// OfflineAnalysis is set when every analysis is the fallback by choice,
	// so fallbacks do not indicate an outage.
	OfflineAnalysis bool
}

// Analyze runs retrospective analysis on a finished run.
func Analyze(summary *supervisor.RunSummary, opts Options) *Report {
	report := &Report{
		RunID:        summary.RunID,
		Target:       summary.Target,
		Files:        summary.TotalFiles,
		Succeeded:    summary.Succeeded,
		Failed:       summary.Failed,
		Cached:       summary.Cached,
		Skipped:      summary.Skipped,
		SuccessRate:  summary.SuccessRate,
		AverageScore: summary.Tally.AverageScore,
		Fallbacks:    summary.Tally.Fallbacks,
		Duration:     summary.Duration,
	}

	report.Patterns = detectPatterns(summary, opts)
	report.Recommendations = generateRecommendations(report.Patterns)
	return report
}

// detectPatterns identifies recurring issues in the run.
func detectPatterns(summary *supervisor.RunSummary, opts Options) []Pattern {
	var patterns []Pattern

	// Quests with repeated file failures, and quests scoring poorly overall.
	for _, q := range summary.Quests {
		if q.Failed >= failingQuestMin {
			var files []string
			for _, o := range q.Outcomes {
				if o.Failure != nil {
					files = append(files, o.Failure.File.Key())
				}
			}
			patterns = append(patterns, Pattern{
				Type:        PatternFailingQuest,
				Description: fmt.Sprintf("Quest %q had %d of %d files fail", questName(q.Quest), q.Failed, q.Total()),
				Quest:       q.Quest,
				Files:       files,
				Severity:    severityFromShare(q.Failed, q.Total()),
			})
		}

		if avg, n := scoredAverage(q.Outcomes); n > 0 && avg < lowScoreAverage {
			patterns = append(patterns, Pattern{
				Type:        PatternLowScores,
				Description: fmt.Sprintf("Quest %q averages %.1f across %d analyzed files", questName(q.Quest), avg, n),
				Quest:       q.Quest,
				Severity:    "medium",
			})
		}
	}

	// The same class of statement error across many files.
	classes := make([]metrics.ErrorClass, 0, len(summary.Tally.ErrorClasses))
	for class := range summary.Tally.ErrorClasses {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	for _, class := range classes {
		count := summary.Tally.ErrorClasses[class]
		if count >= recurringErrorMin {
			severity := "medium"
			if class == metrics.ErrorConnection || class == metrics.ErrorTimeout {
				severity = "high"
			}
			patterns = append(patterns, Pattern{
				Type:        PatternRecurringError,
				Description: fmt.Sprintf("%d statement errors classified as %s", count, class),
				ErrorClass:  class,
				Severity:    severity,
			})
		}
	}

	// Analysis service down or throttled.
	fresh := summary.Succeeded - summary.Cached
	if !opts.OfflineAnalysis && fresh > 0 && float64(summary.Tally.Fallbacks) >= float64(fresh)*outageFallbackShare {
		patterns = append(patterns, Pattern{
			Type:        PatternAnalysisOutage,
			Description: fmt.Sprintf("%d of %d fresh evaluations used the fallback analysis", summary.Tally.Fallbacks, fresh),
			Stage:       evaluation.StageAnalyze,
			Severity:    "high",
		})
	}

	if stage, ok := stuckStage(summary); ok {
		patterns = append(patterns, Pattern{
			Type:        PatternStuck,
			Description: fmt.Sprintf("At least %d consecutive files failed at the %s stage", stuckConsecutive, stage),
			Stage:       stage,
			Severity:    "high",
		})
	}

	if summary.BudgetExceeded {
		patterns = append(patterns, Pattern{
			Type:        PatternBudgetExhausted,
			Description: "Run stopped early: " + summary.StopReason,
			Severity:    "low",
		})
	}

	return patterns
}

// stuckStage reports the stage of the longest streak of consecutive failures
// at one stage, if the streak is long enough.
func stuckStage(summary *supervisor.RunSummary) (evaluation.Stage, bool) {
	var (
		stage       evaluation.Stage
		consecutive int
		longest     int
		longestAt   evaluation.Stage
	)
	for _, q := range summary.Quests {
		for _, o := range q.Outcomes {
			if o.Failure == nil {
				consecutive = 0
				continue
			}
			if consecutive > 0 && o.Failure.Stage != stage {
				consecutive = 0
			}
			stage = o.Failure.Stage
			consecutive++
			if consecutive >= longest {
				longest, longestAt = consecutive, stage
			}
		}
	}
	return longestAt, longest >= stuckConsecutive
}

// generateRecommendations produces actionable suggestions from patterns.
func generateRecommendations(patterns []Pattern) []Recommendation {
	var recs []Recommendation

	for _, p := range patterns {
		switch p.Type {
		case PatternFailingQuest:
			priority := 2
			if p.Severity == "high" {
				priority = 1
			}
			recs = append(recs, Recommendation{
				Action:      RecReviewQuest,
				Quest:       p.Quest,
				Description: fmt.Sprintf("Inspect the failure messages for quest %q and re-run it", questName(p.Quest)),
				Priority:    priority,
			})

		case PatternLowScores:
			recs = append(recs, Recommendation{
				Action:      RecFixExercises,
				Quest:       p.Quest,
				Description: fmt.Sprintf("Work through the recommendations for quest %q, starting with the lowest scores", questName(p.Quest)),
				Priority:    3,
			})

		case PatternRecurringError:
			desc := fmt.Sprintf("Fix the %s errors shared by several exercises", p.ErrorClass)
			if p.ErrorClass == metrics.ErrorConnection || p.ErrorClass == metrics.ErrorTimeout {
				desc = "Check the sandbox database; statements could not reach it or timed out"
			}
			recs = append(recs, Recommendation{
				Action:      RecFixExercises,
				Description: desc,
				Priority:    2,
			})

		case PatternAnalysisOutage:
			recs = append(recs, Recommendation{
				Action:      RecCheckAnalysis,
				Description: "Verify the analysis API key and quota, or lower requests_per_minute",
				Priority:    1,
			})
			recs = append(recs, Recommendation{
				Action:      RecRerunForced,
				Description: "Re-run with --force once analysis is healthy to replace fallback results",
				Priority:    2,
			})

		case PatternStuck:
			action := RecCheckStorage
			desc := "Consecutive persistence failures; check disk space and the evaluation store"
			if p.Stage != evaluation.StagePersist {
				action = RecRerunForced
				desc = fmt.Sprintf("Consecutive %s failures; fix the cause and re-run", p.Stage)
			}
			recs = append(recs, Recommendation{Action: action, Description: desc, Priority: 1})

		case PatternBudgetExhausted:
			recs = append(recs, Recommendation{
				Action:      RecRaiseBudget,
				Description: "Raise budget.max_files or budget.max_duration, or evaluate one quest at a time",
				Priority:    3,
			})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority < recs[j].Priority })
	return recs
}

// scoredAverage averages freshly analyzed, non-fallback results.
func scoredAverage(outcomes []evaluation.Outcome) (float64, int) {
	sum, n := 0, 0
	for _, o := range outcomes {
		if o.Result == nil || o.Result.Analysis.Fallback {
			continue
		}
		sum += o.Result.NumericScore
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return float64(sum) / float64(n), n
}

func severityFromShare(failed, total int) string {
	if total > 0 && float64(failed)/float64(total) >= 0.5 {
		return "high"
	}
	return "medium"
}

func questName(q string) string {
	if q == "" {
		return "(root)"
	}
	return q
}
