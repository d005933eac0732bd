package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config defines a bounded exponential backoff policy.
type Config struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter spreads each delay by +/- Jitter*delay (0.0 to 1.0).
	Jitter float64
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default is the policy applied to transient upstream failures.
var Default = Config{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
	Jitter:       0.2,
}

// Delay returns the un-jittered backoff before retry number attempt (0-based).
func (c Config) Delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns an error that retryable rejects, the
// attempts run out, or ctx is done. The last error is returned wrapped.
func Do[T any](ctx context.Context, cfg Config, retryable func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("retry: cancelled after %d attempts: %w", attempt, lastErr)
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := applyJitter(cfg.Delay(attempt), cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry: cancelled while backing off: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("retry: giving up after %d attempts: %w", attempts, lastErr)
}

func applyJitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 || delay <= 0 {
		return delay
	}
	if factor > 1 {
		factor = 1
	}
	spread := float64(delay) * factor * (rand.Float64()*2 - 1)
	if d := float64(delay) + spread; d > 0 {
		return time.Duration(d)
	}
	return 0
}
