// Package core holds the shared domain types of the gateway: instance
// connection status, message kinds, and the outcome/error taxonomy that the
// dispatcher, flush trigger, and HTTP layer agree on.
package core

// Status is the connection state of an instance.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// MessageKind is the type of an outbound message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// InstanceInfo is the summary returned by the instance listing.
type InstanceInfo struct {
	ID             string `json:"instanceId"`
	Status         Status `json:"status"`
	HasPairingCode bool   `json:"hasPairingCode"`
}

// Outcome tags a send result. A deferred send is an expected, common-case
// branch (the recipient has never messaged us), not a failure.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeDeferred Outcome = "deferred"
)

// SendResult describes what happened to an accepted send request.
type SendResult struct {
	Outcome      Outcome `json:"outcome"`
	PendingID    string  `json:"pendingId,omitempty"`
	RecipientJID string  `json:"recipientJid,omitempty"`
}
