// Package eventbus bridges in-process and cross-process event delivery: a
// pluggable transport provider, plus a Bus that composes write-through
// persistence, a bounded cache, local fan-out, and transport forwarding.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ghuser/eventcore/pkg/config"
	"github.com/ghuser/eventcore/pkg/logger"
)

// TransportChannel selects the in-process gochannel provider. It is the
// default when no external transport is configured.
const TransportChannel = "channel"

// Handler processes one raw payload delivered by a provider subscription.
type Handler func(ctx context.Context, payload []byte)

// Provider is the transport abstraction under the Bus. An in-process
// implementation dispatches purely in memory; a networked implementation can
// be substituted without touching the Bus.
type Provider interface {
	// Publish sends payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for topic and returns an unsubscribe
	// function. Unsubscribing is idempotent.
	Subscribe(ctx context.Context, topic string, handler Handler) (func(), error)
	// Close shuts the transport down; in-flight deliveries are drained.
	Close() error
}

// NewProvider resolves the configured transport once at startup and returns
// a single concrete provider for the process lifetime. An unknown transport
// name is a startup error, not a silent fallback.
func NewProvider(cfg *config.Config, log logger.Logger) (Provider, error) {
	switch cfg.Transport {
	case "", TransportChannel:
		return NewChannelProvider(log), nil
	default:
		return nil, fmt.Errorf("eventbus: unknown transport %q", cfg.Transport)
	}
}

// ChannelProvider is the in-process Provider backed by Watermill's gochannel
// pub/sub. There is no network hop: delivery happens over buffered channels
// inside the process.
type ChannelProvider struct {
	pubsub *gochannel.GoChannel
	log    logger.Logger
	wg     sync.WaitGroup
}

// NewChannelProvider creates an in-process provider.
func NewChannelProvider(log logger.Logger) *ChannelProvider {
	if log == nil {
		log = logger.NewNop()
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		&slogAdapter{log: log},
	)
	return &ChannelProvider{pubsub: pubsub, log: log}
}

// Publish sends payload to every current subscriber of topic. Publishing
// with zero subscribers is a no-op, not an error.
func (p *ChannelProvider) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := p.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("eventbus: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The returned function cancels the
// subscription; calling it more than once is safe.
func (p *ChannelProvider) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := p.pubsub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("eventbus: subscribe to %s: %w", topic, err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range ch {
			handler(msg.Context(), msg.Payload)
			msg.Ack()
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// Close shuts the transport down and waits for delivery goroutines to drain.
func (p *ChannelProvider) Close() error {
	if err := p.pubsub.Close(); err != nil {
		return fmt.Errorf("eventbus: close provider: %w", err)
	}
	p.wg.Wait()
	return nil
}

// slogAdapter bridges logger.Logger to watermill.LoggerAdapter.
type slogAdapter struct{ log logger.Logger }

func (a *slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, append(fieldsToArgs(fields), "error", err)...)
}
func (a *slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &slogAdapter{log: a.log.With(fieldsToArgs(fields)...)}
}

func fieldsToArgs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
