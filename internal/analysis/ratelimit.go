package analysis

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// RateLimited caps how often the wrapped analyzer is called. Batch pacing
// already spaces requests out; the limiter keeps a burst of fast batches
// under the service quota.
type RateLimited struct {
	next    Analyzer
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of burst.
// A non-positive perMinute returns next unchanged.
func NewRateLimited(next Analyzer, perMinute, burst int) Analyzer {
	if perMinute <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// Analyze waits for a token, then delegates.
func (r *RateLimited) Analyze(ctx context.Context, req Request) (*evaluation.Analysis, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for rate limiter: %v", evaluation.ErrAnalysis, err)
	}
	return r.next.Analyze(ctx, req)
}
