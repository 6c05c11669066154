// Package wa defines the transport capability the gateway core consumes,
// and the whatsmeow-backed implementation of it. The core never touches the
// wire protocol: it opens sessions, sends through them, and consumes one
// composite, in-order event stream per session.
package wa

import (
	"context"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

// EventKind tags a session event.
type EventKind string

const (
	// EventPairingCode carries a freshly issued pairing (QR) code.
	EventPairingCode EventKind = "pairing_code"
	// EventOpened means the session is authenticated and ready to send.
	EventOpened EventKind = "opened"
	// EventClosed means the session dropped. LoggedOut distinguishes an
	// explicit sign-out (no reconnect) from every other close reason.
	EventClosed EventKind = "closed"
	// EventMessage is an inbound message from an individual or group chat.
	EventMessage EventKind = "message"
)

// Event is one entry of a session's composite event stream. Events for a
// single session are delivered in emission order.
type Event struct {
	Kind EventKind

	// EventPairingCode
	PairingCode string

	// EventClosed
	StatusCode int
	LoggedOut  bool

	// EventMessage
	SenderJID string
	Text      string
}

// Outbound is a message handed to Session.Send.
type Outbound struct {
	Kind      core.MessageKind
	Text      string
	ImageData []byte
	MimeType  string
	Caption   string
}

// Lookup is the result of a reachability check for a normalized number.
type Lookup struct {
	Exists bool
	JID    string
}

// Session is one live connection to the messaging network. It is owned by
// the connection manager; the dispatcher and flush trigger borrow it only
// for Send and Lookup.
type Session interface {
	// Events returns the composite event stream. The channel is never
	// closed; consumers stop via their own context.
	Events() <-chan Event

	// Send delivers a message to a resolved JID, honoring ctx deadlines.
	Send(ctx context.Context, jid string, msg Outbound) error

	// Lookup resolves whether normalized digits are reachable on the
	// network and returns the canonical JID when they are.
	Lookup(ctx context.Context, digits string) (Lookup, error)

	// SignOut performs an authenticated sign-out, invalidating the
	// persisted credentials on the server side.
	SignOut(ctx context.Context) error

	// Close tears the connection down without signing out. Best-effort.
	Close() error

	// ConnectedUser returns the authenticated account JID, if any.
	ConnectedUser() (string, bool)
}

// Transport opens sessions bound to per-instance persisted auth state.
type Transport interface {
	// Open loads (or creates) the instance's auth state and dials a new
	// session. fresh=true wipes the persisted credentials first, so the
	// handshake starts unauthenticated and a new pairing code is issued.
	Open(ctx context.Context, instanceID string, fresh bool) (Session, error)

	// Wipe deletes the persisted auth state for an instance without
	// opening a session.
	Wipe(instanceID string) error
}
