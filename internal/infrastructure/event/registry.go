package event

import (
	"sync"

	"github.com/fleetbill/backend/internal/domain/shared"
)

// HandlerRegistry tracks which handlers want which event types. A handler
// registered without any types is a catch-all and sees every event; the
// metrics handler subscribes that way, while the Kafka publisher names the
// billing events it forwards.
type HandlerRegistry struct {
	mu       sync.RWMutex
	byType   map[string][]shared.EventHandler
	catchAll []shared.EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		byType: make(map[string][]shared.EventHandler),
	}
}

// Register adds a handler for the given event types, or as a catch-all
// when none are given.
func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(eventTypes) == 0 {
		r.catchAll = append(r.catchAll, handler)
		return
	}
	for _, et := range eventTypes {
		r.byType[et] = append(r.byType[et], handler)
	}
}

// Unregister removes a handler everywhere it appears.
func (r *HandlerRegistry) Unregister(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.catchAll = without(r.catchAll, handler)
	for et, handlers := range r.byType {
		if remaining := without(handlers, handler); len(remaining) == 0 {
			delete(r.byType, et)
		} else {
			r.byType[et] = remaining
		}
	}
}

// GetHandlers returns the handlers for an event type, catch-alls included.
func (r *HandlerRegistry) GetHandlers(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.byType[eventType]
	out := make([]shared.EventHandler, 0, len(matched)+len(r.catchAll))
	out = append(out, matched...)
	return append(out, r.catchAll...)
}

// GetAllHandlers returns every registered handler once, regardless of how
// many event types it is registered for.
func (r *HandlerRegistry) GetAllHandlers() []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[shared.EventHandler]bool)
	out := make([]shared.EventHandler, 0, len(r.catchAll))
	collect := func(handlers []shared.EventHandler) {
		for _, h := range handlers {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	collect(r.catchAll)
	for _, handlers := range r.byType {
		collect(handlers)
	}
	return out
}

func without(handlers []shared.EventHandler, target shared.EventHandler) []shared.EventHandler {
	out := make([]shared.EventHandler, 0, len(handlers))
	for _, h := range handlers {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}
