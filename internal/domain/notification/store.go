package notification

import (
	"context"
	"time"
)

// StatusStore defines the contract for the notification status projection.
// Implementations live in infra/kvstore/.
type StatusStore interface {
	// SetStatus writes a status record with the configured retention TTL.
	SetStatus(ctx context.Context, rec *StatusRecord, ttl time.Duration) error

	// GetStatus retrieves a status record. Returns nil, nil if absent.
	GetStatus(ctx context.Context, notificationID string) (*StatusRecord, error)

	// UpdateStatus merges the update into an existing record and returns the
	// result. Returns nil, nil when no record exists; update never creates.
	UpdateStatus(ctx context.Context, notificationID string, upd StatusUpdate, ttl time.Duration) (*StatusRecord, error)

	// ListByUser retrieves a page of the user's status records plus the
	// total count across all pages.
	ListByUser(ctx context.Context, userID string, page, limit int) ([]*StatusRecord, int, error)
}

// IdempotencyCache deduplicates retried submissions by request ID. It stores
// the exact response bytes returned to the original caller so a replay is
// byte-identical.
type IdempotencyCache interface {
	// Lookup returns the cached response for a request ID, or nil, nil on miss.
	Lookup(ctx context.Context, requestID string) ([]byte, error)

	// Store caches the response bytes for the given TTL.
	Store(ctx context.Context, requestID string, response []byte, ttl time.Duration) error
}
