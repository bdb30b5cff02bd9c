package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"notigate/internal/breaker"
	"notigate/internal/common"
)

// Publisher defines the contract for handing jobs to the durable queue.
// Implementations live in infra/broker/.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, job *Job) error
}

// CircuitBreaker guards the publish path. Satisfied by breaker.Breaker.
type CircuitBreaker interface {
	Call(ctx context.Context, op func(ctx context.Context) error) error
}

// Service orchestrates the accept-and-queue workflow:
// rate limit → idempotency lookup → publish (behind the breaker) →
// status record → idempotency store.
type Service struct {
	store     StatusStore
	cache     IdempotencyCache
	limiter   RateLimiter
	publisher Publisher
	breaker   CircuitBreaker

	statusTTL      time.Duration
	idempotencyTTL time.Duration
}

// NewService creates a new notification service.
func NewService(
	store StatusStore,
	cache IdempotencyCache,
	limiter RateLimiter,
	publisher Publisher,
	cb CircuitBreaker,
	statusTTL, idempotencyTTL time.Duration,
) *Service {
	return &Service{
		store:          store,
		cache:          cache,
		limiter:        limiter,
		publisher:      publisher,
		breaker:        cb,
		statusTTL:      statusTTL,
		idempotencyTTL: idempotencyTTL,
	}
}

// Send runs the accept-and-queue sequence for an authenticated caller and
// returns the marshaled response envelope. The envelope bytes are what the
// idempotency cache stores, so a replayed request_id returns an identical
// body. replayed reports whether the response came from the cache.
func (s *Service) Send(ctx context.Context, identity, correlationID string, req *SendRequest) (raw json.RawMessage, replayed bool, err error) {
	if !IsValidType(req.Type) {
		return nil, false, common.NewValidationError(fmt.Sprintf("unsupported notification type: %s", req.Type))
	}
	req.TemplateCode = strings.TrimSpace(req.TemplateCode)
	if req.TemplateCode == "" {
		return nil, false, common.NewValidationError("template_code cannot be empty")
	}
	if req.Priority == 0 {
		req.Priority = 1
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	// Admission control. A limiter backend outage fails open: legitimate
	// traffic is never blocked by limiter infrastructure failure.
	allowed, err := s.limiter.Allow(ctx, identity)
	if err != nil {
		slog.Error("rate limit check failed, allowing request", "identifier", identity, "error", err)
	} else if !allowed {
		return nil, false, common.NewRateLimitError(identity)
	}

	// Idempotency lookup happens before any side effect. A hit short-circuits
	// the rest of the sequence.
	cached, err := s.cache.Lookup(ctx, req.RequestID)
	if err != nil {
		slog.Error("idempotency lookup failed, proceeding", "request_id", req.RequestID, "error", err)
	}
	if cached != nil {
		slog.Info("returning cached response", "request_id", req.RequestID)
		return cached, true, nil
	}

	job := &Job{
		NotificationID: uuid.NewString(),
		CorrelationID:  correlationID,
		UserID:         req.UserID,
		Type:           req.Type,
		TemplateCode:   req.TemplateCode,
		Variables:      req.Variables,
		Priority:       req.Priority,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
		RetryCount:     0,
	}

	err = s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, job.RoutingKey(), job)
	})
	if err != nil {
		if !errors.Is(err, breaker.ErrOpen) {
			slog.Error("publish failed", "notification_id", job.NotificationID, "error", err)
		}
		return nil, false, common.NewUnavailableError("notification service temporarily unavailable")
	}

	// The status record must only ever exist for a durably queued job, so
	// this write strictly follows a successful publish.
	rec := &StatusRecord{
		NotificationID: job.NotificationID,
		Status:         StatusPending,
		Type:           job.Type,
		UserID:         job.UserID,
		TemplateCode:   job.TemplateCode,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := s.store.SetStatus(ctx, rec, s.statusTTL); err != nil {
		return nil, false, common.NewUnavailableError("status store unavailable")
	}

	envelope := common.APIResponse{
		Success: true,
		Data: AcceptData{
			NotificationID: job.NotificationID,
			Status:         StatusPending,
			RequestID:      req.RequestID,
			Type:           job.Type,
		},
		Message: "Notification queued for processing",
	}
	raw, err = json.Marshal(envelope)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling response: %w", err)
	}

	// Best effort: the job is already committed, so a failed cache write only
	// weakens dedup for retries of this request_id.
	if err := s.cache.Store(ctx, req.RequestID, raw, s.idempotencyTTL); err != nil {
		slog.Error("caching idempotent response failed", "request_id", req.RequestID, "error", err)
	}

	slog.Info("notification queued",
		"notification_id", job.NotificationID,
		"notification_type", job.Type,
		"user_id", job.UserID,
		"template_code", job.TemplateCode,
		"correlation_id", correlationID,
	)

	return raw, false, nil
}

// Status retrieves the status record for a notification.
func (s *Service) Status(ctx context.Context, notificationID string) (*StatusRecord, error) {
	rec, err := s.store.GetStatus(ctx, notificationID)
	if err != nil {
		return nil, common.NewUnavailableError("status store unavailable")
	}
	if rec == nil {
		return nil, common.NewNotFoundError("notification", notificationID)
	}
	return rec, nil
}

// UpdateStatus merges a delivery service's status report into an existing
// record. Update never creates: an unknown notification ID is a not-found.
func (s *Service) UpdateStatus(ctx context.Context, preference string, req *StatusUpdateRequest) (*StatusRecord, error) {
	if preference != string(TypeEmail) && preference != string(TypePush) {
		return nil, common.NewValidationError("invalid notification preference, must be 'email' or 'push'")
	}
	if !IsValidStatus(req.Status) {
		return nil, common.NewValidationError(fmt.Sprintf("invalid status: %s", req.Status))
	}

	upd := StatusUpdate{
		Status:       req.Status,
		Type:         Type(preference),
		UpdatedAt:    req.Timestamp,
		ErrorMessage: req.Error,
	}
	if upd.UpdatedAt == "" {
		upd.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	rec, err := s.store.UpdateStatus(ctx, req.NotificationID, upd, s.statusTTL)
	if err != nil {
		return nil, common.NewUnavailableError("status store unavailable")
	}
	if rec == nil {
		return nil, common.NewNotFoundError("notification", req.NotificationID)
	}

	slog.Info("notification status updated",
		"notification_id", req.NotificationID,
		"status", req.Status,
		"service", preference,
	)
	return rec, nil
}

// List retrieves a page of the caller's notifications with paging metadata.
func (s *Service) List(ctx context.Context, userID string, page, limit int) ([]*StatusRecord, *common.PaginationMeta, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	records, total, err := s.store.ListByUser(ctx, userID, page, limit)
	if err != nil {
		return nil, nil, common.NewUnavailableError("status store unavailable")
	}
	return records, common.NewPaginationMeta(total, page, limit), nil
}
