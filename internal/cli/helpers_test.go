package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/swamp-dev/sqlquest/internal/config"
	"github.com/swamp-dev/sqlquest/internal/evaluation"
	"github.com/swamp-dev/sqlquest/internal/metrics"
	"github.com/swamp-dev/sqlquest/internal/retro"
	"github.com/swamp-dev/sqlquest/internal/supervisor"
)

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		width   int
		wantLen int // total length including brackets
	}{
		{"0 percent", 0.0, 20, 22},
		{"50 percent", 50.0, 20, 22},
		{"100 percent", 100.0, 20, 22},
		{"25 percent", 25.0, 40, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := renderProgressBar(tt.percent, tt.width)

			runes := []rune(result)
			if len(runes) != tt.wantLen {
				t.Errorf("renderProgressBar(%.0f, %d) rune length = %d, want %d", tt.percent, tt.width, len(runes), tt.wantLen)
			}
			if result[0] != '[' {
				t.Error("expected bar to start with '['")
			}
			if runes[len(runes)-1] != ']' {
				t.Error("expected bar to end with ']'")
			}
		})
	}

	if bar := renderProgressBar(0.0, 10); strings.Contains(bar, "█") {
		t.Error("0% bar should have no filled blocks")
	}
	if bar := renderProgressBar(150.0, 10); strings.Contains(bar, "░") {
		t.Error(">100% bar should be clamped to full (no empty blocks)")
	}
	if bar := renderProgressBar(-5, 10); strings.Contains(bar, "█") {
		t.Error("negative percent should render empty")
	}
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		status   string
		expected string
	}{
		{"completed", "✓"},
		{"running", "▶"},
		{"failed", "✗"},
		{"unknown", "○"},
		{"", "○"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := statusIcon(tt.status); got != tt.expected {
				t.Errorf("statusIcon(%q) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"over length gets ellipsis", "hello world", 8, "hello..."},
		{"empty string", "", 10, ""},
		{"one over max", "abcdef", 5, "ab..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncate(tt.input, tt.max)
			if result != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, result, tt.expected)
			}
			if len(result) > tt.max {
				t.Errorf("truncate result length %d exceeds max %d", len(result), tt.max)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestPrintRunSummary(t *testing.T) {
	failed := evaluation.Fail(
		evaluation.SQLFile{RelPath: "joins/basics/02_left.sql"},
		evaluation.StagePersist,
		errors.New("database is locked"),
	)
	summary := &supervisor.RunSummary{
		RunID:       7,
		Target:      "all",
		TotalFiles:  3,
		Succeeded:   2,
		Failed:      1,
		Cached:      1,
		SuccessRate: 2.0 / 3.0,
		Duration:    1500 * time.Millisecond,
		Quests: []*supervisor.QuestResult{{
			Quest:     "joins",
			Outcomes:  []evaluation.Outcome{evaluation.Succeed(&evaluation.Result{}), evaluation.Succeed(&evaluation.Result{}), failed},
			Succeeded: 2,
			Failed:    1,
			Cached:    1,
			Batches:   []int{3},
		}},
		Tally: metrics.TallySnapshot{
			Fallbacks:    2,
			ErrorClasses: map[metrics.ErrorClass]int{metrics.ErrorSyntax: 3},
		},
	}

	var buf bytes.Buffer
	printRunSummary(&buf, summary)
	out := buf.String()

	for _, want := range []string{
		"Run:       #7 (all)",
		"Files:     3 | Succeeded: 2 | Failed: 1 | Cached: 1",
		"66.7%",
		"✗ joins",
		"batches [3]",
		"Fallback analyses: 2",
		"Statement errors: syntax=3",
		"joins/basics/02_left.sql [persist] database is locked",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintRetro(t *testing.T) {
	var buf bytes.Buffer
	printRetro(&buf, &retro.Report{})
	if buf.Len() != 0 {
		t.Errorf("empty report should print nothing, got %q", buf.String())
	}

	printRetro(&buf, &retro.Report{
		Patterns:        []retro.Pattern{{Severity: "high", Description: "3 consecutive persist failures"}},
		Recommendations: []retro.Recommendation{{Priority: 1, Description: "check disk space"}},
	})
	out := buf.String()
	for _, want := range []string{"--- Patterns ---", "[high] 3 consecutive persist failures", "1. [P1] check disk space"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestApplyOverridesFromEnv(t *testing.T) {
	initConfig()
	t.Setenv("SQLQUEST_EVALUATION_MODE", "atomic")
	t.Setenv("SQLQUEST_EVALUATION_MAX_CONCURRENT_FILES", "2")
	t.Setenv("SQLQUEST_QUESTS_ROOT", "exercises")
	t.Setenv("SQLQUEST_ANALYSIS_BACKEND", "fallback")

	cfg := config.DefaultConfig()
	if err := applyOverrides(cfg); err != nil {
		t.Fatalf("applyOverrides() error = %v", err)
	}

	if cfg.Evaluation.Mode != "atomic" {
		t.Errorf("Mode = %q, want atomic", cfg.Evaluation.Mode)
	}
	if cfg.Evaluation.MaxConcurrentFiles != 2 || cfg.Sandbox.MaxOpenConns != 2 {
		t.Errorf("concurrency = %d, pool = %d, want 2/2", cfg.Evaluation.MaxConcurrentFiles, cfg.Sandbox.MaxOpenConns)
	}
	if !filepath.IsAbs(cfg.Quests.Root) || filepath.Base(cfg.Quests.Root) != "exercises" {
		t.Errorf("Quests.Root = %q, want absolute .../exercises", cfg.Quests.Root)
	}
	if cfg.Analysis.Backend != "fallback" {
		t.Errorf("Backend = %q, want fallback", cfg.Analysis.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("overridden config should validate: %v", err)
	}
}
