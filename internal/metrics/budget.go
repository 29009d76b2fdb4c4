package metrics

import (
	"fmt"
	"time"

	"github.com/swamp-dev/sqlquest/internal/config"
)

// Budget limits a single evaluation run. Zero values mean unlimited.
type Budget struct {
	MaxFiles      int           `json:"max_files" yaml:"max_files"`
	MaxDuration   time.Duration `json:"max_duration" yaml:"max_duration"`
	WarnThreshold float64       `json:"warn_threshold" yaml:"warn_threshold"` // 0.0-1.0, default 0.8
}

// BudgetFromConfig reads the run budget from cfg.
func BudgetFromConfig(cfg *config.Config) Budget {
	return Budget{
		MaxFiles:      cfg.Budget.MaxFiles,
		MaxDuration:   cfg.MaxRunDuration(),
		WarnThreshold: 0.8,
	}
}

// BudgetStatus represents the current budget consumption state.
type BudgetStatus struct {
	FilesUsed    int           `json:"files_used"`
	FilesMax     int           `json:"files_max"`
	DurationUsed time.Duration `json:"duration_used"`
	DurationMax  time.Duration `json:"duration_max"`
	Warning      bool          `json:"warning"`
	Exceeded     bool          `json:"exceeded"`
	Reason       string        `json:"reason,omitempty"`
}

// BudgetEnforcer tracks run consumption against limits.
type BudgetEnforcer struct {
	budget    Budget
	startTime time.Time
	now       func() time.Time
}

// NewBudgetEnforcer creates a new enforcer with the given budget. The clock
// starts now.
func NewBudgetEnforcer(budget Budget) *BudgetEnforcer {
	if budget.WarnThreshold == 0 {
		budget.WarnThreshold = 0.8
	}
	return &BudgetEnforcer{
		budget:    budget,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Budget returns the limits being enforced.
func (e *BudgetEnforcer) Budget() Budget {
	return e.budget
}

// Check evaluates files processed so far against the budget.
func (e *BudgetEnforcer) Check(filesUsed int) *BudgetStatus {
	elapsed := e.now().Sub(e.startTime)

	status := &BudgetStatus{
		FilesUsed:    filesUsed,
		FilesMax:     e.budget.MaxFiles,
		DurationUsed: elapsed,
		DurationMax:  e.budget.MaxDuration,
	}

	if e.budget.MaxFiles > 0 && filesUsed >= e.budget.MaxFiles {
		status.Exceeded = true
		status.Reason = fmt.Sprintf("file budget exceeded: %d/%d", filesUsed, e.budget.MaxFiles)
		return status
	}
	if e.budget.MaxDuration > 0 && elapsed >= e.budget.MaxDuration {
		status.Exceeded = true
		status.Reason = fmt.Sprintf("duration budget exceeded: %s/%s", elapsed.Round(time.Second), e.budget.MaxDuration)
		return status
	}

	threshold := e.budget.WarnThreshold
	if e.budget.MaxFiles > 0 && float64(filesUsed) >= float64(e.budget.MaxFiles)*threshold {
		status.Warning = true
		status.Reason = fmt.Sprintf("approaching file limit: %d/%d", filesUsed, e.budget.MaxFiles)
	}
	if e.budget.MaxDuration > 0 && float64(elapsed) >= float64(e.budget.MaxDuration)*threshold {
		status.Warning = true
		status.Reason = fmt.Sprintf("approaching duration limit: %s/%s", elapsed.Round(time.Second), e.budget.MaxDuration)
	}

	return status
}

// Remaining returns how many more files may start, or -1 when unlimited.
func (e *BudgetEnforcer) Remaining(filesUsed int) int {
	if e.budget.MaxFiles <= 0 {
		return -1
	}
	if filesUsed >= e.budget.MaxFiles {
		return 0
	}
	return e.budget.MaxFiles - filesUsed
}
