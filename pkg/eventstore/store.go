// Package eventstore provides durable, secondary-indexed persistence for
// domain events on top of a key/value store.
package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ghuser/eventcore/pkg/events"
)

// ConnectionError indicates the backing store is unreachable. It is surfaced
// to the caller of Connect/Save/Load/Query, never silently swallowed —
// except inside Clear, which is explicitly best-effort.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("event store unreachable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Criteria filters a Query. Zero values mean "no constraint"; Before and
// After are inclusive bounds on the event's OccurredAt.
type Criteria struct {
	EventType   string
	AggregateID string
	After       time.Time
	Before      time.Time
	Limit       int
}

// Stats summarizes the store's contents.
type Stats struct {
	TotalEvents int64            `json:"total_events"`
	ByType      map[string]int64 `json:"by_type"`
}

// Store is the durable event persistence contract. Save is an upsert by
// event id; records are immutable in place and disappear only through Delete
// or TTL expiry. Save/Load/Delete/Query connect transparently when the store
// is not yet connected, surfacing a *ConnectionError if that fails.
type Store interface {
	// Connect establishes (or verifies) the backing connection.
	Connect(ctx context.Context) error
	// Close releases the backing connection.
	Close() error
	// Connected reports whether the store believes it is connected.
	Connected() bool
	// Ping probes the backing connection health.
	Ping(ctx context.Context) error

	// Save persists the event and its index memberships as one batch.
	Save(ctx context.Context, evt events.Event) error
	// Load returns the event with the given id, or nil when absent or
	// expired. A stored-but-corrupt payload is an error, not nil.
	Load(ctx context.Context, id string) (events.Event, error)
	// Delete removes the event and its index memberships as one batch,
	// reporting whether a record existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Query returns events matching every present criterion, sorted by
	// OccurredAt descending and truncated to Limit when given.
	Query(ctx context.Context, c Criteria) ([]events.Event, error)

	// Stats derives counts from index cardinalities when indexing is
	// enabled, otherwise from a direct key count.
	Stats(ctx context.Context) (*Stats, error)
	// Clear deletes every key under the configured prefix. It is
	// best-effort: individual failures are joined into the returned error
	// so callers can inspect them, but teardown never panics.
	Clear(ctx context.Context) error
}
