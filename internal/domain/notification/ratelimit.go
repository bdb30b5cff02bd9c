package notification

import "context"

// RateLimiter defines the contract for per-caller admission control.
// Implementations live in infra/ratelimit/.
type RateLimiter interface {
	// Allow reports whether the identifier is within its request budget.
	// A store error is returned alongside allowed=false; the orchestrator
	// decides the failure policy (it fails open).
	Allow(ctx context.Context, identifier string) (bool, error)
}
