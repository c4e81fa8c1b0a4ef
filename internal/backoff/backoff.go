// Package backoff implements capped exponential backoff for discovery
// source reconnects.
package backoff

import (
	"context"
	"time"
)

// Backoff tracks a growing retry delay. Not safe for concurrent use;
// each discovery task owns its own instance.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	current time.Duration
}

// New creates a backoff starting at initial, multiplying by factor per
// retry and never exceeding max
func New(initial, max time.Duration, factor float64) *Backoff {
	if factor < 1 {
		factor = 2
	}
	return &Backoff{initial: initial, max: max, factor: factor, current: initial}
}

// Wait sleeps for the current delay, honoring ctx cancellation, then
// grows the delay for the next attempt
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.current)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.current = time.Duration(float64(b.current) * b.factor)
		if b.current > b.max {
			b.current = b.max
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset returns the delay to its initial value after a successful
// connection
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Current returns the delay the next Wait will use
func (b *Backoff) Current() time.Duration {
	return b.current
}
