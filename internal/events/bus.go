package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives published events. Handlers must not block; slow consumers
// should buffer internally (the websocket stream does).
type Handler func(event *Event)

// Bus is a minimal synchronous pub/sub bus keyed by event type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type published through
// the bus, including types it has not seen yet.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[wildcard] = append(b.handlers[wildcard], handler)
}

const wildcard EventType = "*"

// Publish delivers an event to all matching handlers. Delivery is
// synchronous and in registration order; publishers on a hot path should
// treat it as fire-and-forget and not hold locks across the call.
func (b *Bus) Publish(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	handlers = append(handlers, b.handlers[wildcard]...)
	b.mu.RUnlock()

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Int("handlers", len(handlers)).
		Msg("Publishing event")

	for _, handler := range handlers {
		handler(event)
	}
}
