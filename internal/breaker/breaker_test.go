package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fixedClock lets tests move breaker time without sleeping.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(failMax int, timeout time.Duration) (*Breaker, *fixedClock) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	b := New(failMax, timeout)
	b.now = clock.Now
	return b, clock
}

func failingOp(ctx context.Context) error { return errBoom }
func okOp(ctx context.Context) error      { return nil }

func TestBreaker_OpensAfterFailMax(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected original error, got %v", i+1, err)
		}
	}

	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected open state, got %s", b.Snapshot().State)
	}

	// Open circuit rejects without invoking the operation.
	invoked := false
	err := b.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not run while circuit is open")
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	_ = b.Call(ctx, failingOp)

	if got := b.Snapshot(); got.State != StateClosed || got.FailureCount != 2 {
		t.Fatalf("expected closed with 2 failures, got %s/%d", got.State, got.FailureCount)
	}

	// A success resets the count.
	if err := b.Call(ctx, okOp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Snapshot().FailureCount; got != 0 {
		t.Fatalf("expected failure count reset, got %d", got)
	}
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	if b.Snapshot().State != StateOpen {
		t.Fatal("expected open after single failure with failMax=1")
	}

	// Before the timeout the circuit still rejects.
	clock.Advance(30 * time.Second)
	if err := b.Call(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen before timeout, got %v", err)
	}

	// After the timeout the next call is the recovery probe.
	clock.Advance(31 * time.Second)
	if err := b.Call(ctx, okOp); err != nil {
		t.Fatalf("probe should have run, got %v", err)
	}
	if got := b.Snapshot(); got.State != StateClosed || got.FailureCount != 0 {
		t.Fatalf("expected closed with reset count, got %s/%d", got.State, got.FailureCount)
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	clock.Advance(2 * time.Minute)

	// A single probe failure reopens immediately; no fresh run of failMax
	// failures is required.
	if err := b.Call(ctx, failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("expected original error from probe, got %v", err)
	}
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected reopened circuit, got %s", b.Snapshot().State)
	}

	// The reopened circuit starts a fresh timeout from the probe failure.
	if err := b.Call(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen right after reopen, got %v", err)
	}
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	clock.Advance(2 * time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeErr := make(chan error, 1)

	go func() {
		probeErr <- b.Call(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	// While the probe is in flight, other callers are rejected.
	if err := b.Call(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen during in-flight probe, got %v", err)
	}

	close(release)
	if err := <-probeErr; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected closed after probe, got %s", b.Snapshot().State)
	}
}

func TestBreaker_ConcurrentFailuresCountOnce(t *testing.T) {
	b, _ := newTestBreaker(100, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Call(ctx, failingOp)
		}()
	}
	wg.Wait()

	if got := b.Snapshot(); got.State != StateOpen {
		t.Fatalf("expected exactly 100 counted failures to open the circuit, got %s/%d", got.State, got.FailureCount)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	_ = b.Call(context.Background(), failingOp)

	b.Reset()

	got := b.Snapshot()
	if got.State != StateClosed || got.FailureCount != 0 || got.LastFailure != nil {
		t.Fatalf("expected pristine breaker after reset, got %+v", got)
	}
}
