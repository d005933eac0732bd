package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_NoBlockWhenZeroInterval(t *testing.T) {
	limiter := NewLimiter(0, 0.5)

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("limiter with zero interval should not block")
	}
}

func TestLimiter_NilDoesNotBlock(t *testing.T) {
	var limiter *Limiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limiter.Interval() != 0 {
		t.Errorf("expected zero interval for nil limiter")
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100*time.Millisecond, 0)

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	duration := time.Since(start)

	// Every Wait pauses, including the first one.
	if duration < 90*time.Millisecond || duration > 200*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", duration)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(time.Second, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatalf("expected context canceled error")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("cancelled wait should return promptly")
	}
}

func TestLimiter_JitterOnlyLengthens(t *testing.T) {
	limiter := NewLimiter(50*time.Millisecond, 0.5)

	for range 5 {
		d := limiter.next()
		if d < 50*time.Millisecond || d > 75*time.Millisecond {
			t.Errorf("expected jittered pause between 50ms and 75ms, got %v", d)
		}
	}
}

func TestNewLimiter_ClampsJitter(t *testing.T) {
	if l := NewLimiter(time.Second, 3); l.jitter != 1 {
		t.Errorf("expected jitter clamped to 1, got %v", l.jitter)
	}
	if l := NewLimiter(time.Second, -1); l.jitter != 0 {
		t.Errorf("expected jitter clamped to 0, got %v", l.jitter)
	}
}
