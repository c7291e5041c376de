package common

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate, delegating throttling to a
// well-tested token bucket instead of a hand-rolled reset-window counter.
// It exposes Wait/Allow/ShouldDelay only; it does not report weight usage
// or how close the caller is to a venue's ban threshold.
type RateLimiter struct {
	limiter *rate.Limiter
	limit   int
}

// NewRateLimiter creates a limiter allowing `ratePerSec` requests per second
// with a burst of `burst`, matching the per-venue weight budgets (e.g.
// 1200/min for Binance spot translates to rate.Limit(20) with burst 40).
func NewRateLimiter(ratePerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		limit:   burst,
	}
}

// Wait blocks until a token is available or the context is canceled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed right now without blocking.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// ShouldDelay reports whether the limiter is currently exhausted (no
// tokens available), signaling the caller should back off before retrying.
// It is the negation of Allow: when a token is available it consumes it.
func (rl *RateLimiter) ShouldDelay() bool {
	return !rl.limiter.Allow()
}
