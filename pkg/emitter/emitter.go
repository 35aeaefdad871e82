// Package emitter implements an in-process, name-keyed listener registry
// with concurrent fan-out. It is the local delivery layer under the event bus.
package emitter

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ghuser/eventcore/pkg/logger"
)

// Listener handles one emitted payload. A returned error (or a panic) is
// logged by the emitter; it never reaches the publisher and never prevents
// sibling listeners from running.
type Listener func(ctx context.Context, payload any) error

type registration struct {
	fn   Listener
	ptr  uintptr // function identity, used by Off
	once bool
}

// Emitter dispatches payloads to listeners registered under event names.
// All methods are safe for concurrent use.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]*registration
	log       logger.Logger
}

// New creates an emitter. A nil logger falls back to a no-op logger.
func New(log logger.Logger) *Emitter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Emitter{
		listeners: make(map[string][]*registration),
		log:       log,
	}
}

// On registers a listener under name. The same listener may be registered
// under multiple names independently.
func (e *Emitter) On(name string, l Listener) {
	e.add(name, l, false)
}

// Once registers a listener that is removed atomically with its single
// invocation: a second Emit of the same name never re-invokes it, and the
// listener never observes itself still registered from its own callback.
func (e *Emitter) Once(name string, l Listener) {
	e.add(name, l, true)
}

func (e *Emitter) add(name string, l Listener, once bool) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[name] = append(e.listeners[name], &registration{
		fn:   l,
		ptr:  reflect.ValueOf(l).Pointer(),
		once: once,
	})
}

// Off removes the first registration of l under name, matched by function
// identity. Registrations of l under other names are unaffected.
func (e *Emitter) Off(name string, l Listener) {
	if l == nil {
		return
	}
	ptr := reflect.ValueOf(l).Pointer()

	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.listeners[name]
	for i, reg := range regs {
		if reg.ptr == ptr {
			e.listeners[name] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

// RemoveAllListeners clears the given names, or every name when called with
// no arguments. Cleared names disappear from EventNames.
func (e *Emitter) RemoveAllListeners(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(names) == 0 {
		e.listeners = make(map[string][]*registration)
		return
	}
	for _, name := range names {
		delete(e.listeners, name)
	}
}

// ListenerCount returns the number of listeners currently registered under name.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

// EventNames returns every name with at least one registered listener.
func (e *Emitter) EventNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	return names
}

// Emit invokes every listener currently registered under name concurrently
// and waits for all of them to settle. It reports whether at least one
// listener existed at the moment of dispatch; listeners added or removed
// during the fan-out do not change the return value. A listener that fails
// (error or panic) is logged and isolated from its siblings.
func (e *Emitter) Emit(ctx context.Context, name string, payload any) bool {
	e.mu.Lock()
	regs := e.listeners[name]
	if len(regs) == 0 {
		e.mu.Unlock()
		return false
	}

	// Snapshot the membership and prune once-listeners in the same critical
	// section, so a once-listener can never be invoked twice.
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)

	remaining := regs[:0:0]
	for _, reg := range regs {
		if !reg.once {
			remaining = append(remaining, reg)
		}
	}
	if len(remaining) == 0 {
		delete(e.listeners, name)
	} else {
		e.listeners[name] = remaining
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, reg := range snapshot {
		wg.Add(1)
		go func(fn Listener) {
			defer wg.Done()
			e.invoke(ctx, name, fn, payload)
		}(reg.fn)
	}
	wg.Wait()
	return true
}

// invoke runs one listener, turning panics into logged errors.
func (e *Emitter) invoke(ctx context.Context, name string, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "emitter: listener panicked",
				"event", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	if err := fn(ctx, payload); err != nil {
		e.log.ErrorContext(ctx, "emitter: listener failed",
			"event", name, "error", err)
	}
}
