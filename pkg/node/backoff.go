package node

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newReconnectBackoff yields the fixed reconnect schedule: 2s doubled per
// attempt, capped at 30s, no jitter. Attempts 1..6 wait 2,4,8,16,30,30.
func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleepCtx waits for d unless ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
