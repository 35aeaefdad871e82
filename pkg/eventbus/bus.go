package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ghuser/eventcore/pkg/emitter"
	"github.com/ghuser/eventcore/pkg/events"
	"github.com/ghuser/eventcore/pkg/eventstore"
	"github.com/ghuser/eventcore/pkg/logger"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

// Listener handles one delivered event. Errors are logged by the emitter and
// never reach the publisher.
type Listener func(ctx context.Context, evt events.Event) error

// Config configures a Bus.
type Config struct {
	// Store enables write-through persistence when non-nil: Publish saves
	// the event before it is considered durable, and a save failure
	// surfaces to the caller.
	Store eventstore.Store
	// Provider forwards events to transport-level subscribers. Required.
	Provider Provider
	// Registry serializes outgoing and reconstructs incoming events. Required.
	Registry *events.Registry
	Logger   logger.Logger
	// CacheSize bounds the write-through cache (default 1024 entries).
	CacheSize int
	// CacheTTL expires cache entries (default 5m).
	CacheTTL time.Duration
}

// Bus composes the emitter, the event store, and the transport provider.
// Publishing persists (when configured), caches, fans out to in-process
// listeners, and forwards to the provider for transport-level subscribers.
type Bus struct {
	store    eventstore.Store
	provider Provider
	registry *events.Registry
	emitter  *emitter.Emitter
	cache    *expirable.LRU[string, events.Event]
	log      logger.Logger

	mu      sync.Mutex
	wrapped map[listenerKey]emitter.Listener
	unsubs  []func()

	published metric.Int64Counter
	failed    metric.Int64Counter
}

type listenerKey struct {
	topic string
	ptr   uintptr
}

// New validates cfg and builds a Bus.
func New(cfg Config) (*Bus, error) {
	if cfg.Provider == nil {
		return nil, errors.New("eventbus: provider is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("eventbus: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	meter := otel.Meter("github.com/ghuser/eventcore/pkg/eventbus")
	published, err := meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Events successfully published through the bus"))
	if err != nil {
		return nil, fmt.Errorf("eventbus: create counter: %w", err)
	}
	failed, err := meter.Int64Counter("eventbus.events.failed",
		metric.WithDescription("Events that failed to persist or forward"))
	if err != nil {
		return nil, fmt.Errorf("eventbus: create counter: %w", err)
	}

	return &Bus{
		store:     cfg.Store,
		provider:  cfg.Provider,
		registry:  cfg.Registry,
		emitter:   emitter.New(cfg.Logger),
		cache:     expirable.NewLRU[string, events.Event](cfg.CacheSize, nil, cfg.CacheTTL),
		log:       cfg.Logger,
		wrapped:   make(map[listenerKey]emitter.Listener),
		published: published,
		failed:    failed,
	}, nil
}

// Publish delivers evt everywhere the bus knows about, in order:
//  1. write-through to the store when configured — a store failure surfaces
//     to the caller and nothing else runs;
//  2. the bounded cache, so recent events read back without a store round-trip;
//  3. in-process listeners via the emitter, under the event's type as topic;
//  4. the transport provider for subscribers registered at that level.
//
// The OTel trace context from ctx is injected into the event's metadata
// before any of this, so remote consumers can continue the span tree.
// Publish reports whether at least one in-process listener received the
// event; zero listeners is a no-op notification, not an error.
func (b *Bus) Publish(ctx context.Context, evt events.Event) (bool, error) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	meta := evt.Meta()
	for k, v := range carrier {
		meta[k] = v
	}

	typeAttr := metric.WithAttributes(attribute.String("event.type", evt.EventType()))

	if b.store != nil {
		if err := b.store.Save(ctx, evt); err != nil {
			b.failed.Add(ctx, 1, typeAttr)
			return false, fmt.Errorf("eventbus: persist %s: %w", evt.EventID(), err)
		}
	}

	b.cache.Add(evt.EventID(), evt)

	delivered := b.emitter.Emit(ctx, evt.EventType(), evt)

	payload, err := b.registry.Marshal(evt)
	if err != nil {
		b.failed.Add(ctx, 1, typeAttr)
		return delivered, err
	}
	if err := b.provider.Publish(ctx, evt.EventType(), payload); err != nil {
		b.failed.Add(ctx, 1, typeAttr)
		return delivered, err
	}

	b.published.Add(ctx, 1, typeAttr)
	return delivered, nil
}

// Subscribe registers an in-process listener for the given event type. These
// listeners run synchronously with the rest of the bus logic during Publish.
func (b *Bus) Subscribe(eventType string, l Listener) {
	b.register(eventType, l, false)
}

// SubscribeOnce registers a listener invoked at most once.
func (b *Bus) SubscribeOnce(eventType string, l Listener) {
	b.register(eventType, l, true)
}

func (b *Bus) register(eventType string, l Listener, once bool) {
	if l == nil {
		return
	}
	key := listenerKey{topic: eventType, ptr: reflect.ValueOf(l).Pointer()}

	wrapped := func(ctx context.Context, payload any) error {
		evt, ok := payload.(events.Event)
		if !ok {
			return fmt.Errorf("eventbus: unexpected payload type %T on %s", payload, eventType)
		}
		if once {
			b.mu.Lock()
			delete(b.wrapped, key)
			b.mu.Unlock()
		}
		return l(ctx, evt)
	}

	b.mu.Lock()
	b.wrapped[key] = wrapped
	b.mu.Unlock()

	if once {
		b.emitter.Once(eventType, wrapped)
	} else {
		b.emitter.On(eventType, wrapped)
	}
}

// Unsubscribe removes a previously subscribed listener for the event type.
// Unknown listeners are a no-op.
func (b *Bus) Unsubscribe(eventType string, l Listener) {
	if l == nil {
		return
	}
	key := listenerKey{topic: eventType, ptr: reflect.ValueOf(l).Pointer()}

	b.mu.Lock()
	wrapped, ok := b.wrapped[key]
	if ok {
		delete(b.wrapped, key)
	}
	b.mu.Unlock()

	if ok {
		b.emitter.Off(eventType, wrapped)
	}
}

// ListenerCount returns the number of in-process listeners for the event type.
func (b *Bus) ListenerCount(eventType string) int {
	return b.emitter.ListenerCount(eventType)
}

// Bridge subscribes the bus to the provider topic for the given event type
// and re-emits externally-originated events to in-process listeners. Events
// the bus itself published are recognized by their id in the cache and
// skipped, so local listeners never see a duplicate. The publisher's trace
// context is restored from the event metadata before re-emission.
//
// The dedupe window is the cache's bound: an external duplicate arriving
// after the entry was evicted is delivered again. Handlers behind a bridge
// should be idempotent.
func (b *Bus) Bridge(ctx context.Context, eventType string) error {
	unsub, err := b.provider.Subscribe(ctx, eventType, func(ctx context.Context, payload []byte) {
		evt, err := b.registry.Deserialize(payload)
		if err != nil {
			b.log.ErrorContext(ctx, "eventbus: drop undecodable event",
				"topic", eventType, "error", err)
			return
		}
		if b.cache.Contains(evt.EventID()) {
			return // published by this bus instance
		}
		b.cache.Add(evt.EventID(), evt)

		msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(evt.Meta()))
		b.emitter.Emit(msgCtx, evt.EventType(), evt)
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsub)
	b.mu.Unlock()
	return nil
}

// Cached returns the cached event for id, when still within the cache bound.
func (b *Bus) Cached(id string) (events.Event, bool) {
	return b.cache.Get(id)
}

// Ping probes the write-through store when one is configured.
func (b *Bus) Ping(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	return b.store.Ping(ctx)
}

// Close cancels bridge subscriptions and shuts the provider down.
func (b *Bus) Close() error {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return b.provider.Close()
}
