package supervisor

import (
	"context"
	"time"
)

// Pacer spaces out work so the analysis service is not flooded. Wait blocks
// until the next batch may start or ctx is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedDelay waits the same duration every time.
type FixedDelay struct {
	Delay time.Duration
}

// Wait sleeps for Delay.
func (f FixedDelay) Wait(ctx context.Context) error {
	return sleep(ctx, f.Delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
