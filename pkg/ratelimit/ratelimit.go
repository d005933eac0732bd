package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Limiter paces consecutive upstream calls by a fixed pause with optional
// jitter. A nil Limiter, or one with a zero interval, never blocks.
type Limiter struct {
	interval time.Duration
	jitter   float64 // 0.0 to 1.0
}

// NewLimiter returns a Limiter that pauses for interval on every Wait.
// Jitter must be between 0.0 and 1.0 and is clamped otherwise.
func NewLimiter(interval time.Duration, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	if interval < 0 {
		interval = 0
	}
	return &Limiter{interval: interval, jitter: jitter}
}

// Interval returns the configured base pause.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// next returns the pause for the upcoming Wait. Jitter only ever lengthens
// the pause, so the configured interval is a floor.
func (l *Limiter) next() time.Duration {
	d := l.interval
	if l.jitter > 0 {
		d += time.Duration(float64(l.interval) * l.jitter * rand.Float64())
	}
	return d
}

// Wait blocks for the pause or until the context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(l.next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
