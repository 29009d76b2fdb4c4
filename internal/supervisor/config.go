// Package supervisor schedules file evaluations into paced batches and drives
// whole runs across quests.
package supervisor

import (
	"log/slog"
	"time"

	"github.com/swamp-dev/sqlquest/internal/config"
	"github.com/swamp-dev/sqlquest/internal/metrics"
)

// Options holds scheduling configuration.
type Options struct {
	// MaxConcurrentFiles is the batch size and the fan-out limit inside a batch.
	MaxConcurrentFiles int `yaml:"max_concurrent_files" json:"max_concurrent_files"`

	// Pauses between batches and between quests.
	BatchDelay    time.Duration `yaml:"batch_delay" json:"batch_delay"`
	QuestDelay    time.Duration `yaml:"quest_delay" json:"quest_delay"`
	AdaptiveDelay bool          `yaml:"adaptive_delay" json:"adaptive_delay"`
	MaxBatchDelay time.Duration `yaml:"max_batch_delay" json:"max_batch_delay"`

	// Discovery.
	Exclude []string `yaml:"exclude" json:"exclude"`

	Budget metrics.Budget `yaml:"budget" json:"budget"`
}

// DefaultOptions returns scheduling options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentFiles: 3,
		BatchDelay:         2 * time.Second,
		QuestDelay:         5 * time.Second,
	}
}

// OptionsFromConfig reads scheduling options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxConcurrentFiles: cfg.Evaluation.MaxConcurrentFiles,
		BatchDelay:         cfg.BatchDelay(),
		QuestDelay:         cfg.QuestDelay(),
		AdaptiveDelay:      cfg.Evaluation.AdaptiveDelay,
		MaxBatchDelay:      cfg.MaxBatchDelay(),
		Exclude:            cfg.Quests.Exclude,
		Budget:             metrics.BudgetFromConfig(cfg),
	}
}

// BatchPacer returns the pacer used between batches.
func (o Options) BatchPacer(logger *slog.Logger) Pacer {
	if o.AdaptiveDelay {
		return NewAdaptivePacer(o.BatchDelay, o.MaxBatchDelay, logger)
	}
	return FixedDelay{Delay: o.BatchDelay}
}
