package core

import "errors"

// Sentinel errors for the caller-facing taxonomy. Handlers map these to
// HTTP statuses with errors.Is; wrap them with fmt.Errorf("...: %w", ...)
// to attach detail.
var (
	// ErrInvalidFormat means the phone input lacks the international "+"
	// marker or contains non-digit characters.
	ErrInvalidFormat = errors.New("invalid phone number format")

	// ErrNotConnected means a send was attempted on an instance that is
	// not in the connected state.
	ErrNotConnected = errors.New("instance not connected")

	// ErrWaitingForContact marks the deferred-send signal for callers that
	// prefer errors.Is over inspecting SendResult.Outcome. The dispatcher
	// itself returns a Deferred result, not this error.
	ErrWaitingForContact = errors.New("waiting for contact to message first")

	// ErrSendTimeout means the transport did not acknowledge the send
	// within the bounded wait.
	ErrSendTimeout = errors.New("send timed out")

	// ErrSendFailed wraps any other transport-level send failure.
	ErrSendFailed = errors.New("send failed")

	// ErrMediaFetchFailed means the media URL could not be retrieved.
	ErrMediaFetchFailed = errors.New("media fetch failed")

	// ErrTransportUnavailable means bootstrap could not obtain a session
	// handle from the transport.
	ErrTransportUnavailable = errors.New("transport unavailable")
)
