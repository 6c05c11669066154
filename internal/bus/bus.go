// Package bus fans gateway events out to subscribers (the websocket event
// stream and anything else that wants live connection/delivery updates).
package bus

import (
	"sync"
	"time"
)

// Event is one gateway event: a connection state change, an issued pairing
// code, or a delivery outcome.
type Event struct {
	Type       string         `json:"type"`
	InstanceID string         `json:"instanceId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	At         time.Time      `json:"at"`
}

// Event types.
const (
	TypeConnection  = "connection"
	TypePairingCode = "pairing_code"
	TypeMessageSent = "message_sent"
	TypeDeferred    = "message_deferred"
	TypeFlushed     = "message_flushed"
)

// Handler receives broadcast events. Handlers must be non-blocking.
type Handler func(Event)

// Hub routes events to subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Handler
}

func New() *Hub {
	return &Hub{subscribers: make(map[string]Handler)}
}

// Subscribe registers a handler under id. Re-subscribing the same id
// replaces the previous handler.
func (h *Hub) Subscribe(id string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = handler
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

// Broadcast sends an event to all subscribers. Stamps At when unset.
func (h *Hub) Broadcast(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, handler := range h.subscribers {
		handler(ev)
	}
}
