package notification_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"notigate/internal/breaker"
	"notigate/internal/common"
	"notigate/internal/domain/notification"
)

type fakeStore struct {
	records  map[string]*notification.StatusRecord
	setErr   error
	setCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*notification.StatusRecord)}
}

func (s *fakeStore) SetStatus(ctx context.Context, rec *notification.StatusRecord, ttl time.Duration) error {
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	cp := *rec
	s.records[rec.NotificationID] = &cp
	return nil
}

func (s *fakeStore) GetStatus(ctx context.Context, id string) (*notification.StatusRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, upd notification.StatusUpdate, ttl time.Duration) (*notification.StatusRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	rec.Status = upd.Status
	rec.Type = upd.Type
	rec.UpdatedAt = upd.UpdatedAt
	rec.ErrorMessage = upd.ErrorMessage
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) ListByUser(ctx context.Context, userID string, page, limit int) ([]*notification.StatusRecord, int, error) {
	var out []*notification.StatusRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

type fakeCache struct {
	entries    map[string][]byte
	lookupErr  error
	storeErr   error
	storeCalls int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Lookup(ctx context.Context, requestID string) ([]byte, error) {
	if c.lookupErr != nil {
		return nil, c.lookupErr
	}
	return c.entries[requestID], nil
}

func (c *fakeCache) Store(ctx context.Context, requestID string, response []byte, ttl time.Duration) error {
	c.storeCalls++
	if c.storeErr != nil {
		return c.storeErr
	}
	c.entries[requestID] = response
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (l *fakeLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	return l.allowed, l.err
}

type fakePublisher struct {
	calls   int
	err     error
	lastKey string
	lastJob *notification.Job
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, job *notification.Job) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.lastKey = routingKey
	p.lastJob = job
	return nil
}

// passBreaker invokes the operation directly, no gating.
type passBreaker struct{}

func (passBreaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

type deps struct {
	store     *fakeStore
	cache     *fakeCache
	limiter   *fakeLimiter
	publisher *fakePublisher
}

func newService(cb notification.CircuitBreaker) (*notification.Service, *deps) {
	d := &deps{
		store:     newFakeStore(),
		cache:     newFakeCache(),
		limiter:   &fakeLimiter{allowed: true},
		publisher: &fakePublisher{},
	}
	svc := notification.NewService(
		d.store, d.cache, d.limiter, d.publisher, cb,
		7*24*time.Hour, 24*time.Hour,
	)
	return svc, d
}

func validReq() *notification.SendRequest {
	return &notification.SendRequest{
		Type:         notification.TypeEmail,
		UserID:       "123e4567-e89b-12d3-a456-426614174000",
		TemplateCode: "welcome",
		Variables: notification.Variables{
			Name: "John Doe",
			Link: "https://example.com/verify/abc123",
		},
		RequestID: "req-1",
		Priority:  2,
	}
}

func TestService_Send(t *testing.T) {
	svc, d := newService(passBreaker{})
	ctx := context.Background()

	raw, replayed, err := svc.Send(ctx, "user-1", "corr-1", validReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed {
		t.Fatal("first submission must not be a replay")
	}

	var envelope common.APIResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if !envelope.Success {
		t.Fatal("expected success envelope")
	}
	data, ok := envelope.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data shape: %T", envelope.Data)
	}
	if data["status"] != "pending" {
		t.Fatalf("expected pending status, got %v", data["status"])
	}
	if data["request_id"] != "req-1" {
		t.Fatalf("expected echoed request_id, got %v", data["request_id"])
	}
	id, _ := data["notification_id"].(string)
	if id == "" {
		t.Fatal("expected generated notification_id")
	}

	if d.publisher.calls != 1 {
		t.Fatalf("expected 1 publish, got %d", d.publisher.calls)
	}
	if d.publisher.lastKey != "notification.email" {
		t.Fatalf("expected email routing key, got %s", d.publisher.lastKey)
	}
	if d.publisher.lastJob.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation id on job, got %s", d.publisher.lastJob.CorrelationID)
	}
	if d.publisher.lastJob.RetryCount != 0 {
		t.Fatalf("expected retry_count 0, got %d", d.publisher.lastJob.RetryCount)
	}

	rec := d.store.records[id]
	if rec == nil {
		t.Fatal("expected status record for published job")
	}
	if rec.Status != notification.StatusPending {
		t.Fatalf("expected pending record, got %s", rec.Status)
	}
}

func TestService_Send_IdempotentReplay(t *testing.T) {
	svc, d := newService(passBreaker{})
	ctx := context.Background()

	first, _, err := svc.Send(ctx, "user-1", "corr-1", validReq())
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}

	second, replayed, err := svc.Send(ctx, "user-1", "corr-2", validReq())
	if err != nil {
		t.Fatalf("second submission: %v", err)
	}
	if !replayed {
		t.Fatal("expected replay for repeated request_id")
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("replayed body must be byte-identical\nfirst:  %s\nsecond: %s", first, second)
	}

	if d.publisher.calls != 1 {
		t.Fatalf("expected exactly one publish across retries, got %d", d.publisher.calls)
	}
	if len(d.store.records) != 1 {
		t.Fatalf("expected exactly one status record, got %d", len(d.store.records))
	}
}

func TestService_Send_RateLimited(t *testing.T) {
	svc, d := newService(passBreaker{})
	d.limiter.allowed = false

	_, _, err := svc.Send(context.Background(), "user-1", "corr-1", validReq())

	var rateLimited *common.RateLimitError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if d.publisher.calls != 0 {
		t.Fatal("rejected request must not publish")
	}
}

func TestService_Send_LimiterOutageFailsOpen(t *testing.T) {
	svc, d := newService(passBreaker{})
	d.limiter.allowed = false
	d.limiter.err = errors.New("connection refused")

	_, _, err := svc.Send(context.Background(), "user-1", "corr-1", validReq())
	if err != nil {
		t.Fatalf("limiter outage must not block traffic: %v", err)
	}
	if d.publisher.calls != 1 {
		t.Fatal("expected the request to proceed")
	}
}

func TestService_Send_PublishFailureWritesNoStatus(t *testing.T) {
	svc, d := newService(passBreaker{})
	d.publisher.err = errors.New("channel closed")

	_, _, err := svc.Send(context.Background(), "user-1", "corr-1", validReq())

	var unavailable *common.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if d.store.setCalls != 0 {
		t.Fatal("no status record may exist for an unqueued job")
	}
	if d.cache.storeCalls != 0 {
		t.Fatal("failed request must not be cached")
	}
}

func TestService_Send_CircuitOpenSkipsPublisher(t *testing.T) {
	cb := breaker.New(1, time.Hour)
	svc, d := newService(cb)
	ctx := context.Background()

	d.publisher.err = errors.New("broker down")
	if _, _, err := svc.Send(ctx, "user-1", "corr-1", validReq()); err == nil {
		t.Fatal("expected failure while broker is down")
	}

	// Circuit is open now; the publisher must not be invoked again.
	d.publisher.err = nil
	req := validReq()
	req.RequestID = "req-2"
	_, _, err := svc.Send(ctx, "user-1", "corr-1", req)

	var unavailable *common.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if d.publisher.calls != 1 {
		t.Fatalf("expected no publish attempt with open circuit, got %d calls", d.publisher.calls)
	}
}

func TestService_Send_StatusStoreFailure(t *testing.T) {
	svc, d := newService(passBreaker{})
	d.store.setErr = errors.New("connection refused")

	_, _, err := svc.Send(context.Background(), "user-1", "corr-1", validReq())

	var unavailable *common.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if d.cache.storeCalls != 0 {
		t.Fatal("response must not be cached when the sequence aborted")
	}
}

func TestService_Send_CacheWriteFailureIsSwallowed(t *testing.T) {
	svc, d := newService(passBreaker{})
	d.cache.storeErr = errors.New("connection refused")

	_, _, err := svc.Send(context.Background(), "user-1", "corr-1", validReq())
	if err != nil {
		t.Fatalf("idempotency store failure must not fail the accepted request: %v", err)
	}
	if d.publisher.calls != 1 || len(d.store.records) != 1 {
		t.Fatal("job should have been accepted normally")
	}
}

func TestService_Send_Validation(t *testing.T) {
	svc, _ := newService(passBreaker{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *notification.SendRequest)
	}{
		{"unknown type", func(r *notification.SendRequest) { r.Type = "sms" }},
		{"empty template", func(r *notification.SendRequest) { r.TemplateCode = "   " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validReq()
			tt.mutate(req)
			_, _, err := svc.Send(ctx, "user-1", "corr-1", req)

			var validation *common.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestService_Send_DefaultsRequestIDAndPriority(t *testing.T) {
	svc, d := newService(passBreaker{})

	req := validReq()
	req.RequestID = ""
	req.Priority = 0

	raw, _, err := svc.Send(context.Background(), "user-1", "corr-1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var envelope common.APIResponse
	_ = json.Unmarshal(raw, &envelope)
	data := envelope.Data.(map[string]any)
	if data["request_id"] == "" {
		t.Fatal("expected a generated request_id")
	}
	if d.publisher.lastJob.Priority != 1 {
		t.Fatalf("expected default priority 1, got %d", d.publisher.lastJob.Priority)
	}
}

func TestService_Status_NotFound(t *testing.T) {
	svc, _ := newService(passBreaker{})

	_, err := svc.Status(context.Background(), "missing")

	var notFound *common.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestService_UpdateStatus(t *testing.T) {
	svc, d := newService(passBreaker{})
	ctx := context.Background()

	d.store.records["n-1"] = &notification.StatusRecord{
		NotificationID: "n-1",
		Status:         notification.StatusPending,
		Type:           notification.TypeEmail,
		UserID:         "user-1",
	}

	rec, err := svc.UpdateStatus(ctx, "email", &notification.StatusUpdateRequest{
		NotificationID: "n-1",
		Status:         notification.StatusDelivered,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != notification.StatusDelivered {
		t.Fatalf("expected delivered, got %s", rec.Status)
	}
	if rec.UpdatedAt == "" {
		t.Fatal("expected updated_at to be stamped")
	}
}

func TestService_UpdateStatus_NeverCreates(t *testing.T) {
	svc, d := newService(passBreaker{})

	_, err := svc.UpdateStatus(context.Background(), "email", &notification.StatusUpdateRequest{
		NotificationID: "ghost",
		Status:         notification.StatusDelivered,
	})

	var notFound *common.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if len(d.store.records) != 0 {
		t.Fatal("update must not create records")
	}
}

func TestService_UpdateStatus_Validation(t *testing.T) {
	svc, _ := newService(passBreaker{})
	ctx := context.Background()

	tests := []struct {
		name       string
		preference string
		status     notification.Status
	}{
		{"bad preference", "sms", notification.StatusDelivered},
		{"bad status", "email", "bounced"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateStatus(ctx, tt.preference, &notification.StatusUpdateRequest{
				NotificationID: "n-1",
				Status:         tt.status,
			})

			var validation *common.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestService_List_Pagination(t *testing.T) {
	svc, d := newService(passBreaker{})

	for _, id := range []string{"a", "b", "c"} {
		d.store.records[id] = &notification.StatusRecord{NotificationID: id, UserID: "user-1"}
	}
	d.store.records["other"] = &notification.StatusRecord{NotificationID: "other", UserID: "user-2"}

	records, meta, err := svc.List(context.Background(), "user-1", 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		// The fake ignores paging; the meta math is what matters here.
		t.Logf("fake returned %d records", len(records))
	}
	if meta.Total != 3 || meta.TotalPages != 2 || !meta.HasNext || meta.HasPrevious {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}
