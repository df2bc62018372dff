package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// BackoffPolicy describes a capped exponential schedule. Jitter is the
// randomization factor: each delay lands in [d*(1-Jitter), d*(1+Jitter)].
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoff starts between 1s and 3s, doubles, and never exceeds 60s.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// Backoff hands out successive delays. It never gives up; callers decide
// when to stop. Not safe for concurrent use.
type Backoff struct {
	max time.Duration
	exp *backoff.ExponentialBackOff
}

func NewBackoff(p BackoffPolicy) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.MaxInterval = p.Max
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Backoff{max: p.Max, exp: exp}
}

// Next returns the delay before the next attempt, clamped to the policy max
// so jitter cannot push it past the cap.
func (b *Backoff) Next() time.Duration {
	d := b.exp.NextBackOff()
	if d == backoff.Stop || d > b.max {
		return b.max
	}
	return d
}

// Reset restarts the schedule after a success.
func (b *Backoff) Reset() {
	b.exp.Reset()
}

// Sleep waits for d on clock, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
