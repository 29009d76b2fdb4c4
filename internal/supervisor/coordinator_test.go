package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/metrics"
	"github.com/swamp-dev/sqlquest/internal/store"
)

// setupQuests writes a quest tree under a temp dir and returns its root.
func setupQuests(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("-- exercise\nSELECT 1;\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func openRunStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCoordinator(root string, eval FileEvaluator, opts Options, runs RunRecorder, questPacer Pacer) *Coordinator {
	sched := NewQuestScheduler(eval, nil, nil, opts.MaxConcurrentFiles, testLogger())
	return NewCoordinator(root, opts, CoordinatorDeps{
		Scheduler:  sched,
		Runs:       runs,
		QuestPacer: questPacer,
		Logger:     testLogger(),
		Config:     opts,
	})
}

var twoQuests = []string{
	"joins/basics/01_inner.sql",
	"joins/basics/02_left.sql",
	"aggregates/group_by/01_count.sql",
	"aggregates/group_by/02_sum.sql",
}

func TestEvaluateAllRunsQuestsInOrder(t *testing.T) {
	root := setupQuests(t, twoQuests...)
	eval := &MockEvaluator{}
	questPacer := &countingPacer{}
	runs := openRunStore(t)

	opts := DefaultOptions()
	opts.MaxConcurrentFiles = 2
	c := newTestCoordinator(root, eval, opts, runs, questPacer)

	summary, err := c.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}

	var quests []string
	for _, q := range summary.Quests {
		quests = append(quests, q.Quest)
	}
	if diff := cmp.Diff([]string{"aggregates", "joins"}, quests); diff != "" {
		t.Errorf("quest order mismatch (-want +got):\n%s", diff)
	}

	// Every aggregates file starts before any joins file.
	started := eval.Started()
	for i, key := range started {
		if strings.HasPrefix(key, "aggregates/") && i >= 2 {
			t.Errorf("quest files interleaved: %v", started)
		}
	}

	if questPacer.waits != 1 {
		t.Errorf("quest pacer waits = %d, want 1", questPacer.waits)
	}
	if summary.TotalFiles != 4 || summary.Succeeded != 4 || summary.SuccessRate != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Tally.Files != 4 {
		t.Errorf("Tally.Files = %d, want 4", summary.Tally.Files)
	}

	run, err := runs.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunCompleted || run.Target != TargetAll {
		t.Errorf("run = %+v", run)
	}
	if diff := cmp.Diff(summary.Totals(), run.RunTotals); diff != "" {
		t.Errorf("run totals mismatch (-want +got):\n%s", diff)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if !strings.Contains(run.ConfigJSON, `"max_concurrent_files":2`) {
		t.Errorf("ConfigJSON = %q", run.ConfigJSON)
	}
}

func TestEvaluateAllDiscoveryError(t *testing.T) {
	runs := openRunStore(t)
	c := newTestCoordinator(filepath.Join(t.TempDir(), "missing"), &MockEvaluator{}, DefaultOptions(), runs, nil)

	_, err := c.EvaluateAll(context.Background())
	if !errors.Is(err, evaluation.ErrDiscovery) {
		t.Fatalf("EvaluateAll() error = %v, want ErrDiscovery", err)
	}
	if got, _ := runs.ListRuns(context.Background(), 10); len(got) != 0 {
		t.Errorf("no run should be recorded, got %d", len(got))
	}
}

func TestEvaluateAllFailuresDoNotStopRun(t *testing.T) {
	root := setupQuests(t, twoQuests...)
	eval := &MockEvaluator{
		panics: map[string]bool{"aggregates/group_by/01_count.sql": true},
		fails:  map[string]bool{"joins/basics/02_left.sql": true},
	}
	c := newTestCoordinator(root, eval, DefaultOptions(), nil, &countingPacer{})

	summary, err := c.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if summary.Succeeded != 2 || summary.Failed != 2 {
		t.Errorf("succeeded/failed = %d/%d, want 2/2", summary.Succeeded, summary.Failed)
	}
	if summary.Tally.FailedStages[evaluation.StagePersist] != 1 || summary.Tally.FailedStages[evaluation.StageExecute] != 1 {
		t.Errorf("FailedStages = %v", summary.Tally.FailedStages)
	}
}

func TestEvaluateAllFileBudget(t *testing.T) {
	root := setupQuests(t, twoQuests...)
	eval := &MockEvaluator{}

	opts := DefaultOptions()
	opts.Budget = metrics.Budget{MaxFiles: 3}
	c := newTestCoordinator(root, eval, opts, nil, &countingPacer{})

	summary, err := c.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if summary.TotalFiles != 3 || len(eval.Started()) != 3 {
		t.Errorf("evaluated %d files (started %d), want 3", summary.TotalFiles, len(eval.Started()))
	}
	if !summary.BudgetExceeded || !strings.Contains(summary.StopReason, "file budget") {
		t.Errorf("BudgetExceeded = %v, StopReason = %q", summary.BudgetExceeded, summary.StopReason)
	}
}

// cancellingPacer cancels the run the first time it is asked to wait.
type cancellingPacer struct {
	cancel context.CancelFunc
}

func (p *cancellingPacer) Wait(ctx context.Context) error {
	p.cancel()
	return ctx.Err()
}

func TestEvaluateAllCancelled(t *testing.T) {
	root := setupQuests(t, twoQuests...)
	runs := openRunStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestCoordinator(root, &MockEvaluator{}, DefaultOptions(), runs, &cancellingPacer{cancel: cancel})
	summary, err := c.EvaluateAll(ctx)
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if summary.StopReason != "cancelled" || summary.TotalFiles != 2 || len(summary.Quests) != 1 {
		t.Errorf("summary = %+v", summary)
	}

	run, err := runs.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunFailed || run.TotalFiles != 2 {
		t.Errorf("run = %+v, want failed with 2 files", run)
	}
}

func TestEvaluateTarget(t *testing.T) {
	root := setupQuests(t, append(twoQuests, "README.md")...)

	tests := []struct {
		name    string
		target  string
		want    []string
		wantErr bool
	}{
		{
			name:   "single file",
			target: "joins/basics/02_left.sql",
			want:   []string{"joins/basics/02_left.sql"},
		},
		{
			name:   "quest directory",
			target: "joins",
			want:   []string{"joins/basics/01_inner.sql", "joins/basics/02_left.sql"},
		},
		{
			name:   "all",
			target: "all",
			want: []string{
				"aggregates/group_by/01_count.sql",
				"aggregates/group_by/02_sum.sql",
				"joins/basics/01_inner.sql",
				"joins/basics/02_left.sql",
			},
		},
		{name: "subcategory is not a quest", target: "joins/basics", wantErr: true},
		{name: "missing", target: "windows", wantErr: true},
		{name: "not sql", target: "README.md", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.MaxConcurrentFiles = 1
			c := newTestCoordinator(root, &MockEvaluator{}, opts, nil, &countingPacer{})

			summary, err := c.EvaluateTarget(context.Background(), tt.target)
			if tt.wantErr {
				if !errors.Is(err, evaluation.ErrDiscovery) {
					t.Fatalf("EvaluateTarget(%q) error = %v, want ErrDiscovery", tt.target, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EvaluateTarget(%q) error = %v", tt.target, err)
			}

			var got []string
			for _, q := range summary.Quests {
				got = append(got, keys(q.Outcomes)...)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("evaluated files mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
