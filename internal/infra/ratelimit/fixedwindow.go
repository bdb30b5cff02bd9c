// Package ratelimit implements fixed-window admission control on top of
// the key-value store's atomic counters.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"notigate/internal/domain/notification"
)

var _ notification.RateLimiter = (*FixedWindow)(nil)

// Counter is the atomic increment-with-expiry capability the limiter needs.
// Satisfied by kvstore.Store.
type Counter interface {
	IncrementRateLimit(ctx context.Context, identifier string, window time.Duration) (int64, error)
	RateLimitCount(ctx context.Context, identifier string) (int64, error)
}

// FixedWindow counts requests per identifier in discrete, non-overlapping
// time buckets. The counter resets at the window boundary via key expiry;
// rejected requests still count against the window so retry storms cannot
// reset the budget.
type FixedWindow struct {
	counter     Counter
	maxRequests int64
	window      time.Duration
}

// NewFixedWindow creates a limiter allowing maxRequests per window.
func NewFixedWindow(counter Counter, maxRequests int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		counter:     counter,
		maxRequests: int64(maxRequests),
		window:      window,
	}
}

// Allow increments the identifier's counter and reports whether it is still
// within budget. The increment stands even when the answer is no. A counter
// store error is propagated; the caller owns the fail-open decision.
func (f *FixedWindow) Allow(ctx context.Context, identifier string) (bool, error) {
	count, err := f.counter.IncrementRateLimit(ctx, identifier, f.window)
	if err != nil {
		return false, fmt.Errorf("checking rate limit: %w", err)
	}

	if count > f.maxRequests {
		slog.Warn("rate limit exceeded",
			"identifier", identifier,
			"count", count,
			"max_requests", f.maxRequests,
			"window", f.window,
		)
		return false, nil
	}

	if count > f.maxRequests*8/10 {
		slog.Info("rate limit approaching",
			"identifier", identifier,
			"count", count,
			"max_requests", f.maxRequests,
		)
	}
	return true, nil
}

// Remaining returns how many requests the identifier has left this window.
func (f *FixedWindow) Remaining(ctx context.Context, identifier string) (int64, error) {
	count, err := f.counter.RateLimitCount(ctx, identifier)
	if err != nil {
		return 0, fmt.Errorf("reading rate limit: %w", err)
	}
	remaining := f.maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
