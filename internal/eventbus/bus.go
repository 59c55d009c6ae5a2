package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler consumes one event. Returning an error marks the delivery failed;
// the bus logs it and moves on (redelivery is the publisher's concern).
type Handler func(ctx context.Context, ev Event) error

// Publisher is the producer-side interface. The in-process Bus implements
// it, as does the NATS-backed adapter.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is an in-process typed pub/sub bus. Dispatch is synchronous in the
// publisher's goroutine, so events for one target are observed in publish
// order. Handlers for unrelated topics never block each other's
// registration.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[Topic][]Handler
	// forward receives every published event after local dispatch,
	// typically the NATS publisher for external consumers.
	forward []Publisher
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		log:      logger,
		handlers: make(map[Topic][]Handler),
	}
}

// Subscribe registers a handler for a topic. Handlers registered for the
// same topic run in registration order.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Forward registers an external publisher that receives every event after
// local handlers ran.
func (b *Bus) Forward(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forward = append(b.forward, p)
}

// Publish delivers the event to all subscribers of its topic, then to the
// forwarding publishers. Handler errors are logged, never returned: the
// publishing unit of work must not fail because a listener did.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := b.handlers[ev.Topic]
	forward := b.forward
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.log.Error("event handler failed",
				slog.String("topic", string(ev.Topic)),
				slog.String("event_id", ev.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	for _, p := range forward {
		if err := p.Publish(ctx, ev); err != nil {
			b.log.Error("event forward failed",
				slog.String("topic", string(ev.Topic)),
				slog.String("event_id", ev.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	return nil
}
