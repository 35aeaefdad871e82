// Package suspend implements the correlation-based "ask" primitive: register
// a pending correlation, hand the caller a future, and settle it exactly once
// when a matching response arrives, the deadline passes, or the wait is
// cancelled.
package suspend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghuser/eventcore/pkg/logger"
)

// Sentinel errors for errors.Is checks. The typed errors below unwrap to
// these, so callers can distinguish the two terminal failure modes of a
// suspension from transport or store errors.
var (
	ErrTimeout     = errors.New("suspension timed out")
	ErrCancelled   = errors.New("suspension cancelled")
	ErrDuplicateID = errors.New("correlation id already pending")
	ErrEmptyID     = errors.New("correlation id is required")
	ErrNonPositive = errors.New("timeout must be positive")
)

// TimeoutError reports that no response arrived before the deadline.
type TimeoutError struct {
	CorrelationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("suspension %s timed out after %s", e.CorrelationID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// CancelledError reports that the waiter was cancelled explicitly.
type CancelledError struct {
	CorrelationID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("suspension %s cancelled", e.CorrelationID)
}

func (e *CancelledError) Unwrap() error { return ErrCancelled }

type outcome struct {
	value any
	err   error
}

type entry struct {
	done      chan outcome // buffered, settled exactly once
	timer     *time.Timer
	createdAt time.Time
}

// Suspension is the future returned by Suspend. Await blocks until the
// suspension settles or ctx is done.
type Suspension struct {
	CorrelationID string
	done          <-chan outcome
}

// Await returns the resolution value, or the suspension's terminal error
// (*TimeoutError, *CancelledError), or ctx.Err() if the caller gave up first.
// Giving up via ctx does not remove the pending entry; the deadline timer
// still reclaims it.
func (s *Suspension) Await(ctx context.Context) (any, error) {
	select {
	case out := <-s.done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Manager tracks pending correlations. Each correlation id has at most one
// in-flight suspension, settles exactly once (resolved, timed out, or
// cancelled), and is independent of every other id. All methods are safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*entry
	log     logger.Logger
}

// NewManager creates a suspension manager.
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		pending: make(map[string]*entry),
		log:     log,
	}
}

// Suspend registers a pending correlation and starts its deadline timer.
// A second Suspend for an id that is still pending returns ErrDuplicateID —
// at most one waiter is in flight per correlation.
func (m *Manager) Suspend(correlationID string, timeout time.Duration) (*Suspension, error) {
	if correlationID == "" {
		return nil, ErrEmptyID
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrNonPositive, timeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[correlationID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, correlationID)
	}

	e := &entry{
		done:      make(chan outcome, 1),
		createdAt: time.Now(),
	}
	e.timer = time.AfterFunc(timeout, func() {
		m.expire(correlationID, timeout)
	})
	m.pending[correlationID] = e

	return &Suspension{CorrelationID: correlationID, done: e.done}, nil
}

// Resolve settles the pending suspension with value and reports whether a
// waiter was settled. An unknown or already-terminal id is a no-op: it never
// panics and never double-fires a waiter.
func (m *Manager) Resolve(correlationID string, value any) bool {
	e := m.take(correlationID)
	if e == nil {
		return false
	}
	e.done <- outcome{value: value}
	return true
}

// Cancel rejects the pending suspension with *CancelledError and reports
// whether a waiter was settled. Unknown ids are a no-op.
func (m *Manager) Cancel(correlationID string) bool {
	e := m.take(correlationID)
	if e == nil {
		return false
	}
	e.done <- outcome{err: &CancelledError{CorrelationID: correlationID}}
	return true
}

// PendingCount returns the number of suspensions still waiting.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PendingIDs returns the correlation ids of suspensions still waiting, in no
// particular order.
func (m *Manager) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

// expire is the deadline path. Losing the race against Resolve/Cancel is
// fine: take returns nil once the entry is gone.
func (m *Manager) expire(correlationID string, timeout time.Duration) {
	e := m.take(correlationID)
	if e == nil {
		return
	}
	m.log.Warn("suspension timed out",
		"correlation_id", correlationID,
		"timeout", timeout,
		"pending_for", time.Since(e.createdAt))
	e.done <- outcome{err: &TimeoutError{CorrelationID: correlationID, Timeout: timeout}}
}

// take removes and returns the entry for id, stopping its timer. The removal
// happens under the mutex before the channel send, which is what makes every
// settlement path exactly-once.
func (m *Manager) take(correlationID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pending[correlationID]
	if !ok {
		return nil
	}
	delete(m.pending, correlationID)
	e.timer.Stop()
	return e
}
