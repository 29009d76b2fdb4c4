package retro

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/metrics"
	"github.com/swamp-dev/sqlquest/internal/supervisor"
)

func passed(quest string, score int, fallback bool) evaluation.Outcome {
	r := &evaluation.Result{
		File:         evaluation.SQLFile{RelPath: quest + "/a/ok.sql", Quest: quest},
		NumericScore: score,
	}
	r.Analysis.Fallback = fallback
	return evaluation.Succeed(r)
}

func failed(quest string, n int, stage evaluation.Stage) evaluation.Outcome {
	file := evaluation.SQLFile{RelPath: fmt.Sprintf("%s/a/%02d.sql", quest, n), Quest: quest}
	return evaluation.Fail(file, stage, errors.New("database is locked"))
}

// summarize builds a RunSummary the way the coordinator does.
func summarize(quests ...*supervisor.QuestResult) *supervisor.RunSummary {
	s := &supervisor.RunSummary{RunID: 1, Target: "all", Quests: quests}
	tally := metrics.NewTally()
	for _, q := range quests {
		for _, o := range q.Outcomes {
			tally.Add(o)
			if o.Failure != nil {
				q.Failed++
			} else {
				q.Succeeded++
			}
		}
		s.TotalFiles += q.Total()
		s.Succeeded += q.Succeeded
		s.Failed += q.Failed
	}
	if s.TotalFiles > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.TotalFiles)
	}
	s.Tally = tally.Snapshot()
	return s
}

func patternTypes(r *Report) []PatternType {
	var out []PatternType
	for _, p := range r.Patterns {
		out = append(out, p.Type)
	}
	return out
}

func TestAnalyze_CleanRun(t *testing.T) {
	summary := summarize(&supervisor.QuestResult{
		Quest:    "joins",
		Outcomes: []evaluation.Outcome{passed("joins", 8, false), passed("joins", 9, false)},
	})

	report := Analyze(summary, Options{})
	if len(report.Patterns) != 0 || len(report.Recommendations) != 0 {
		t.Errorf("clean run should have no patterns, got %+v", report.Patterns)
	}
	if report.Files != 2 || report.Succeeded != 2 || report.SuccessRate != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.AverageScore != 8.5 {
		t.Errorf("AverageScore = %v, want 8.5", report.AverageScore)
	}
}

func TestAnalyze_FailingQuestAndStuck(t *testing.T) {
	summary := summarize(&supervisor.QuestResult{
		Quest: "windows",
		Outcomes: []evaluation.Outcome{
			passed("windows", 7, false),
			failed("windows", 2, evaluation.StagePersist),
			failed("windows", 3, evaluation.StagePersist),
			failed("windows", 4, evaluation.StagePersist),
		},
	})

	report := Analyze(summary, Options{})

	want := []PatternType{PatternFailingQuest, PatternStuck}
	if diff := cmp.Diff(want, patternTypes(report)); diff != "" {
		t.Fatalf("patterns mismatch (-want +got):\n%s", diff)
	}
	if got := report.Patterns[0]; got.Severity != "high" || len(got.Files) != 3 {
		t.Errorf("failing quest pattern = %+v", got)
	}
	if report.Patterns[1].Stage != evaluation.StagePersist {
		t.Errorf("stuck stage = %q", report.Patterns[1].Stage)
	}

	if len(report.Recommendations) == 0 || report.Recommendations[0].Priority != 1 {
		t.Fatalf("recommendations = %+v", report.Recommendations)
	}
	var actions []RecommendationType
	for _, r := range report.Recommendations {
		actions = append(actions, r.Action)
	}
	if diff := cmp.Diff([]RecommendationType{RecReviewQuest, RecCheckStorage}, actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_StreakBrokenByStageChange(t *testing.T) {
	summary := summarize(&supervisor.QuestResult{
		Quest: "q",
		Outcomes: []evaluation.Outcome{
			failed("q", 1, evaluation.StagePersist),
			failed("q", 2, evaluation.StagePersist),
			failed("q", 3, evaluation.StageExecute),
		},
	})

	for _, p := range Analyze(summary, Options{}).Patterns {
		if p.Type == PatternStuck {
			t.Errorf("mixed-stage failures should not count as stuck: %+v", p)
		}
	}
}

func TestAnalyze_AnalysisOutage(t *testing.T) {
	summary := summarize(&supervisor.QuestResult{
		Quest:    "q",
		Outcomes: []evaluation.Outcome{passed("q", 5, true), passed("q", 5, true), passed("q", 8, false)},
	})

	report := Analyze(summary, Options{})
	if diff := cmp.Diff([]PatternType{PatternAnalysisOutage}, patternTypes(report)); diff != "" {
		t.Errorf("patterns mismatch (-want +got):\n%s", diff)
	}
	if report.Recommendations[0].Action != RecCheckAnalysis {
		t.Errorf("first recommendation = %+v", report.Recommendations[0])
	}

	offline := Analyze(summary, Options{OfflineAnalysis: true})
	if len(offline.Patterns) != 0 {
		t.Errorf("offline analysis should not report an outage: %+v", offline.Patterns)
	}
}

func TestAnalyze_LowScoresIgnoreFallbacks(t *testing.T) {
	summary := summarize(
		&supervisor.QuestResult{
			Quest:    "basics",
			Outcomes: []evaluation.Outcome{passed("basics", 3, false), passed("basics", 4, false)},
		},
		&supervisor.QuestResult{
			Quest:    "joins",
			Outcomes: []evaluation.Outcome{passed("joins", 9, false), passed("joins", 5, true)},
		},
	)

	report := Analyze(summary, Options{OfflineAnalysis: true})
	if diff := cmp.Diff([]PatternType{PatternLowScores}, patternTypes(report)); diff != "" {
		t.Fatalf("patterns mismatch (-want +got):\n%s", diff)
	}
	if report.Patterns[0].Quest != "basics" {
		t.Errorf("low score quest = %q, want basics", report.Patterns[0].Quest)
	}
}

func TestAnalyze_RecurringErrorsAndBudget(t *testing.T) {
	broken := &evaluation.Result{
		File: evaluation.SQLFile{RelPath: "q/a/broken.sql"},
		Execution: evaluation.ExecutionReport{Statements: []evaluation.StatementResult{
			{Error: `near "SELEC": syntax error`},
			{Error: `near "FORM": syntax error`},
			{Error: `near "WHRE": syntax error`},
		}},
		NumericScore: 6,
	}
	summary := summarize(&supervisor.QuestResult{
		Quest:    "q",
		Outcomes: []evaluation.Outcome{evaluation.Succeed(broken)},
	})
	summary.BudgetExceeded = true
	summary.StopReason = "file budget exceeded: 1/1"

	report := Analyze(summary, Options{})
	want := []PatternType{PatternRecurringError, PatternBudgetExhausted}
	if diff := cmp.Diff(want, patternTypes(report)); diff != "" {
		t.Fatalf("patterns mismatch (-want +got):\n%s", diff)
	}
	if report.Patterns[0].ErrorClass != metrics.ErrorSyntax {
		t.Errorf("ErrorClass = %q", report.Patterns[0].ErrorClass)
	}
}

func TestSeverityFromShare(t *testing.T) {
	tests := []struct {
		failed, total int
		want          string
	}{
		{2, 10, "medium"},
		{5, 10, "high"},
		{3, 3, "high"},
		{0, 0, "medium"},
	}
	for _, tt := range tests {
		if got := severityFromShare(tt.failed, tt.total); got != tt.want {
			t.Errorf("severityFromShare(%d, %d) = %q, want %q", tt.failed, tt.total, got, tt.want)
		}
	}
}
