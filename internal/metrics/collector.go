// Package metrics provides run statistics, error tallies, and budget
// enforcement.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/swamp-dev/sqlquest/internal/store"
)

// Collector provides a query facade over the store for metrics aggregation.
type Collector struct {
	store *store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(s *store.Store) *Collector {
	return &Collector{store: s}
}

// Stats returns totals across all stored evaluations.
func (c *Collector) Stats(ctx context.Context) (*store.Stats, error) {
	return c.store.Stats(ctx)
}

// Quests returns per-quest aggregates.
func (c *Collector) Quests(ctx context.Context) ([]*store.QuestStat, error) {
	return c.store.QuestStats(ctx)
}

// Summary returns a formatted one-line summary of stored evaluations.
func (c *Collector) Summary(ctx context.Context) (string, error) {
	st, err := c.Stats(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"Files: %d | Evaluated: %d | Avg score: %.1f | Grades: %s | Execution failures: %d | Fallback analyses: %d",
		st.Files, st.Evaluated, st.AverageScore, formatCounts(st.ByGrade),
		st.ExecutionFailures, st.FallbackAnalyses,
	), nil
}

// formatCounts renders a count map as "A=3 B=1" in key order.
func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}
