package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// batchObserver is implemented by pacers that adjust to batch results.
type batchObserver interface {
	ObserveBatch(outcomes []evaluation.Outcome)
}

// backoffFraction is the share of fallback analyses in a batch that doubles
// the delay.
const backoffFraction = 0.5

// minBackoff is the first step up when the base delay is zero.
const minBackoff = time.Second

// AdaptivePacer widens the batch delay while the analysis service is failing
// and narrows it back to the base once batches come back clean.
type AdaptivePacer struct {
	base   time.Duration
	max    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	current time.Duration
}

// NewAdaptivePacer creates a pacer starting at base and never exceeding max.
func NewAdaptivePacer(base, max time.Duration, logger *slog.Logger) *AdaptivePacer {
	if max < base {
		max = base
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptivePacer{base: base, max: max, current: base, logger: logger}
}

// Current returns the delay the next Wait will use.
func (p *AdaptivePacer) Current() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Wait sleeps for the current delay.
func (p *AdaptivePacer) Wait(ctx context.Context) error {
	return sleep(ctx, p.Current())
}

// ObserveBatch adjusts the delay from a finished batch.
func (p *AdaptivePacer) ObserveBatch(outcomes []evaluation.Outcome) {
	if len(outcomes) == 0 {
		return
	}

	degraded := 0
	for _, o := range outcomes {
		switch {
		case o.Failure != nil && o.Failure.Stage == evaluation.StageAnalyze:
			degraded++
		case o.Result != nil && !o.Result.Cached && o.Result.Analysis.Fallback:
			degraded++
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.current
	switch {
	case float64(degraded)/float64(len(outcomes)) >= backoffFraction:
		next := p.current * 2
		if next < minBackoff {
			next = minBackoff
		}
		if next > p.max {
			next = p.max
		}
		p.current = next
	case degraded == 0 && p.current > p.base:
		next := p.current / 2
		if next < p.base {
			next = p.base
		}
		p.current = next
	}

	if p.current != prev {
		p.logger.Info("adjusted batch delay",
			"from", prev,
			"to", p.current,
			"degraded", degraded,
			"batch", len(outcomes),
		)
	}
}
