package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrTypeAlreadyRegistered indicates a second, different factory was
// registered for an event type that already has one.
var ErrTypeAlreadyRegistered = errors.New("event type already registered")

// UnknownTypeError is returned by Deserialize when the payload carries a type
// tag no factory was registered for. It is never converted into a nil result.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// DeserializationError wraps a malformed or undecodable event payload.
type DeserializationError struct {
	Type string
	Err  error
}

func (e *DeserializationError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("deserialize event type %q: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("deserialize event: %v", e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// Factory produces a zero-value concrete event for Deserialize to unmarshal
// into. It must return a fresh instance on every call.
type Factory func() Event

// Registry maps event type tags to reconstruction factories. It is an
// explicit instance rather than ambient package state so tests can create
// isolated registries. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty event registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given type tag. Registering the same
// type+factory pair again is a no-op; a different factory for an existing
// type returns ErrTypeAlreadyRegistered rather than silently overwriting.
func (r *Registry) Register(eventType string, factory Factory) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if factory == nil {
		return errors.New("factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.factories[eventType]; ok {
		if reflect.ValueOf(existing).Pointer() == reflect.ValueOf(factory).Pointer() {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTypeAlreadyRegistered, eventType)
	}

	r.factories[eventType] = factory
	return nil
}

// MustRegister registers a factory, panicking on error. Intended for
// process startup wiring.
func (r *Registry) MustRegister(eventType string, factory Factory) {
	if err := r.Register(eventType, factory); err != nil {
		panic(err)
	}
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Marshal serializes an event to its canonical JSON form. The result
// round-trips through Deserialize losslessly for all declared fields.
func (r *Registry) Marshal(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Deserialize reconstructs a concrete event from its JSON form by looking up
// the embedded type tag. An unregistered type yields *UnknownTypeError and
// malformed JSON yields *DeserializationError — never a partial event.
func (r *Registry) Deserialize(data []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DeserializationError{Err: err}
	}
	if probe.Type == "" {
		return nil, &DeserializationError{Err: errors.New("missing type field")}
	}

	r.mu.RLock()
	factory, ok := r.factories[probe.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownTypeError{Type: probe.Type}
	}

	evt := factory()
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, &DeserializationError{Type: probe.Type, Err: err}
	}
	return evt, nil
}
