// Package breaker implements a three-state circuit breaker around
// unreliable downstream calls.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit rejects a call without attempting
// the wrapped operation. Callers map it to a service-unavailable response.
var ErrOpen = errors.New("service temporarily unavailable (circuit breaker open)")

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // rejecting calls
	StateHalfOpen State = "half_open" // probing for recovery
)

// Snapshot is a point-in-time view of breaker state, exposed via /health.
type Snapshot struct {
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
}

// Breaker guards a downstream operation. All state lives behind a single
// mutex; the wrapped call itself runs outside the critical section.
type Breaker struct {
	failMax int
	timeout time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	now func() time.Time
}

// New creates a circuit breaker that opens after failMax consecutive
// failures and probes for recovery once timeout has elapsed.
func New(failMax int, timeout time.Duration) *Breaker {
	return &Breaker{
		failMax: failMax,
		timeout: timeout,
		state:   StateClosed,
		now:     time.Now,
	}
}

// Call executes op if the circuit permits. On rejection it returns ErrOpen
// without invoking op; otherwise the operation's error is returned after
// state bookkeeping. While half-open, exactly one probe call is admitted;
// concurrent callers are rejected until the probe settles.
func (b *Breaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.timeout {
			b.mu.Unlock()
			return ErrOpen
		}
		// Timeout elapsed: this caller becomes the recovery probe.
		slog.Info("circuit breaker entering half-open state")
		b.state = StateHalfOpen
	case StateHalfOpen:
		// A probe is already in flight.
		b.mu.Unlock()
		return ErrOpen
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}

	if b.state == StateHalfOpen {
		slog.Info("circuit breaker probe succeeded, closing circuit")
	}
	b.failures = 0
	b.state = StateClosed
	return nil
}

// onFailure updates counters and state after a failed call. Caller holds mu.
func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen {
		// A half-open probe is single-shot: one failure reopens immediately.
		b.state = StateOpen
		slog.Warn("circuit breaker probe failed, reopening circuit")
		return
	}

	slog.Warn("circuit breaker failure",
		"failure_count", b.failures,
		"fail_max", b.failMax,
	)
	if b.failures >= b.failMax {
		b.state = StateOpen
		slog.Error("circuit breaker opened",
			"failures", b.failures,
			"retry_after", b.timeout,
		)
	}
}

// Healthy reports whether the guarded dependency is presumed reachable.
func (b *Breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != StateOpen
}

// Snapshot returns the current breaker state for diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{State: b.state, FailureCount: b.failures}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	return s
}

// Reset manually closes the circuit and clears failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.state = StateClosed
	slog.Info("circuit breaker manually reset")
}
