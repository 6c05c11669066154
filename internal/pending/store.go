// Package pending implements the durable, contact-gated queue of deferred
// outbound messages. Messages are keyed by (instance, normalized number)
// and drained in enqueue order the moment the recipient first messages in.
package pending

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

// ReasonContactInactive is the only deferral reason in this design: the
// recipient has never messaged the sending account.
const ReasonContactInactive = "contact_inactive"

// Message is one deferred outbound message.
type Message struct {
	ID         string           `json:"id"`
	InstanceID string           `json:"instanceId"`
	To         string           `json:"to"`     // recipient as supplied by caller
	Number     string           `json:"number"` // normalized digits
	Kind       core.MessageKind `json:"kind"`
	Body       string           `json:"body,omitempty"`
	MediaURL   string           `json:"mediaUrl,omitempty"`
	Reason     string           `json:"reason"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
}

// NewID generates a time-ordered unique id for a pending message.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Stats summarizes queue contents per instance.
type Stats struct {
	Total      int            `json:"total"`
	ByInstance map[string]int `json:"byInstance"`
}

// Store is the durable pending-message store. Enqueue order within a
// (instance, number) key is preserved through Drain. Callers serialize
// Enqueue and Drain per key through a KeyLock; the store itself only
// guarantees its operations are individually atomic.
type Store interface {
	// Enqueue appends a message to its (instance, number) queue.
	Enqueue(ctx context.Context, msg Message) error

	// Drain atomically removes and returns all messages for the key, in
	// enqueue order. Once returned, the messages are gone regardless of
	// delivery outcome.
	Drain(ctx context.Context, instanceID, number string) ([]Message, error)

	// Stats returns queue counts across all instances.
	Stats(ctx context.Context) (Stats, error)

	// DeleteOlderThan bulk-evicts messages enqueued before cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
