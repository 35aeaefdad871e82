// Package events defines the canonical domain event shape and the registry
// used to reconstruct polymorphic events from persisted or transmitted JSON.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the interface every domain event satisfies. Events are immutable
// once constructed — id and type are assigned at creation and never change.
type Event interface {
	// EventID returns the globally unique event identifier.
	EventID() string
	// EventType returns the dotted type tag (e.g. "reminder.requested")
	// used for registry lookup and secondary indexing.
	EventType() string
	// Aggregate returns the id of the logical entity this event is about.
	// Empty when the event is not tied to an aggregate.
	Aggregate() string
	// OccurredAt returns when the event happened, in UTC.
	OccurredAt() time.Time
	// SchemaVersion returns the per-type schema version.
	SchemaVersion() int
	// Meta returns the open metadata bag. Mutating the returned map mutates
	// the event's metadata; publishers use it for trace propagation.
	Meta() map[string]string
}

// Base carries the common event fields. Concrete events embed it and add
// their payload fields alongside:
//
//	type OrderShipped struct {
//	    events.Base
//	    OrderNo string `json:"order_no"`
//	}
type Base struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	AggregateID string            `json:"aggregate_id,omitempty"`
	OccurredOn  time.Time         `json:"occurred_on"`
	Version     int               `json:"version"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Option customizes a Base during construction.
type Option func(*Base)

// WithAggregateID ties the event to a logical entity.
func WithAggregateID(id string) Option {
	return func(b *Base) { b.AggregateID = id }
}

// WithVersion overrides the schema version (default 1).
func WithVersion(v int) Option {
	return func(b *Base) { b.Version = v }
}

// WithMetadata merges the given key/value pairs into the metadata bag.
func WithMetadata(meta map[string]string) Option {
	return func(b *Base) {
		if b.Metadata == nil {
			b.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			b.Metadata[k] = v
		}
	}
}

// WithOccurredOn overrides the event timestamp. Intended for replaying
// historical events; new events should keep the default.
func WithOccurredOn(t time.Time) Option {
	return func(b *Base) { b.OccurredOn = t.UTC() }
}

// NewBase constructs the common fields for a new event: a fresh uuid,
// the given type tag, schema version 1, and the current UTC time.
func NewBase(eventType string, opts ...Option) Base {
	b := Base{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredOn: time.Now().UTC(),
		Version:    1,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *Base) EventID() string       { return b.ID }
func (b *Base) EventType() string     { return b.Type }
func (b *Base) Aggregate() string     { return b.AggregateID }
func (b *Base) OccurredAt() time.Time { return b.OccurredOn }
func (b *Base) SchemaVersion() int    { return b.Version }

func (b *Base) Meta() map[string]string {
	if b.Metadata == nil {
		b.Metadata = make(map[string]string)
	}
	return b.Metadata
}
