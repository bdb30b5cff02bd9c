// Package kvstore implements the Redis-backed key-value capabilities:
// notification status records, the idempotency cache, and rate counters.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"notigate/internal/domain/notification"
)

var (
	_ notification.StatusStore      = (*Store)(nil)
	_ notification.IdempotencyCache = (*Store)(nil)
)

// Store is a Redis client wrapper. Keys are namespaced by purpose:
// notification:status:<id>, idempotent:<request_id>, rate_limit:<identifier>.
type Store struct {
	client *redis.Client
}

// New creates a Store connected to the given Redis instance.
func New(addr, password string, db int) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
			PoolSize: 10,
		}),
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Healthy reports whether the store is reachable.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func statusKey(id string) string      { return "notification:status:" + id }
func idempotencyKey(id string) string { return "idempotent:" + id }
func rateLimitKey(id string) string   { return "rate_limit:" + id }

// SetStatus writes a status record with the retention TTL. Expiry here is
// cache eviction, not a correctness signal.
func (s *Store) SetStatus(ctx context.Context, rec *notification.StatusRecord, ttl time.Duration) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling status record: %w", err)
	}
	if err := s.client.Set(ctx, statusKey(rec.NotificationID), body, ttl).Err(); err != nil {
		return fmt.Errorf("writing status record: %w", err)
	}
	return nil
}

// GetStatus retrieves a status record, or nil, nil if absent or expired.
func (s *Store) GetStatus(ctx context.Context, notificationID string) (*notification.StatusRecord, error) {
	data, err := s.client.Get(ctx, statusKey(notificationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading status record: %w", err)
	}

	var rec notification.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling status record: %w", err)
	}
	return &rec, nil
}

// UpdateStatus merges an update into an existing record. Returns nil, nil
// when the record does not exist; update never creates.
func (s *Store) UpdateStatus(ctx context.Context, notificationID string, upd notification.StatusUpdate, ttl time.Duration) (*notification.StatusRecord, error) {
	rec, err := s.GetStatus(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	rec.Status = upd.Status
	rec.Type = upd.Type
	rec.UpdatedAt = upd.UpdatedAt
	rec.ErrorMessage = upd.ErrorMessage

	if err := s.SetStatus(ctx, rec, ttl); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByUser scans the status namespace for the user's records and returns
// one page plus the total count. Records are ordered newest first so paging
// is stable across scans.
func (s *Store) ListByUser(ctx context.Context, userID string, page, limit int) ([]*notification.StatusRecord, int, error) {
	var records []*notification.StatusRecord

	iter := s.client.Scan(ctx, 0, statusKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, 0, fmt.Errorf("reading status record: %w", err)
		}

		var rec notification.StatusRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // skip malformed entries
		}
		if rec.UserID == userID {
			records = append(records, &rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("scanning status records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})

	total := len(records)
	start := (page - 1) * limit
	if start >= total {
		return []*notification.StatusRecord{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return records[start:end], total, nil
}

// Lookup returns the cached response for a request ID, or nil, nil on miss.
func (s *Store) Lookup(ctx context.Context, requestID string) ([]byte, error) {
	data, err := s.client.Get(ctx, idempotencyKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading idempotency entry: %w", err)
	}
	return data, nil
}

// Store caches response bytes under the request ID for the given TTL.
func (s *Store) Store(ctx context.Context, requestID string, response []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, idempotencyKey(requestID), response, ttl).Err(); err != nil {
		return fmt.Errorf("writing idempotency entry: %w", err)
	}
	return nil
}

// IncrementRateLimit atomically increments the identifier's window counter
// and returns the new count. The expiry is set only on the first increment
// so rejected requests never extend the window.
func (s *Store) IncrementRateLimit(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	key := rateLimitKey(identifier)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing rate counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("setting rate counter expiry: %w", err)
		}
	}
	return count, nil
}

// RateLimitCount returns the identifier's current window count.
func (s *Store) RateLimitCount(ctx context.Context, identifier string) (int64, error) {
	count, err := s.client.Get(ctx, rateLimitKey(identifier)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading rate counter: %w", err)
	}
	return count, nil
}
