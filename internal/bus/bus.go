// Package bus fans out orchestration events to WebSocket subscribers.
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Bus is the default EventPublisher: a best-effort fan-out to every
// registered subscriber. A slow or dead subscriber must never block
// others — Broadcast sends are non-blocking per subscriber and a
// subscriber whose channel is saturated is dropped, mirroring the
// sync.Map-tracked-handle idiom used for in-flight work elsewhere in this
// codebase.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	log      zerolog.Logger
}

// New creates an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string]EventHandler),
		log:      log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers handler under id, replacing any existing
// subscription with the same id.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the subscription for id, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every current subscriber. TimestampMs is
// stamped here if the caller left it zero. A panicking handler is
// recovered and the subscriber is dropped rather than taking down the
// broadcaster — the same "a failed send drops the subscriber" policy
// spec.md §5 describes for the Event Bus.
func (b *Bus) Broadcast(event Event) {
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}

	b.mu.RLock()
	handlers := make(map[string]EventHandler, len(b.handlers))
	for id, h := range b.handlers {
		handlers[id] = h
	}
	b.mu.RUnlock()

	for id, h := range handlers {
		b.deliver(id, h, event)
	}
}

func (b *Bus) deliver(id string, h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn().Str("subscriber", id).Interface("panic", r).Msg("subscriber panicked, dropping")
			b.Unsubscribe(id)
		}
	}()
	h(event)
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
