// Package dispatch contains the delivery dispatcher, the inbound flush
// trigger, and the auto-responder. The dispatcher resolves a recipient and
// sends immediately when possible; otherwise it parks the message in the
// pending queue and reports a deferred outcome. The flush trigger drains
// that queue the moment the recipient first messages in.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/media"
	"github.com/nextlevelbuilder/wagate/internal/pending"
	"github.com/nextlevelbuilder/wagate/internal/phone"
	"github.com/nextlevelbuilder/wagate/internal/wa"
)

const (
	// textSendTimeout bounds the wait for a text send acknowledgment.
	textSendTimeout = 15 * time.Second
	// imageSendTimeout bounds an image send; media is fetched first.
	imageSendTimeout = 30 * time.Second
)

// SessionProvider hands out live session handles and their status. The
// connection manager implements it; handles are borrowed for send and
// lookup only.
type SessionProvider interface {
	Status(id string) core.Status
	Session(id string) (wa.Session, bool)
}

// Request is one outbound send request.
type Request struct {
	InstanceID string
	To         string
	Kind       core.MessageKind
	Body       string
	MediaURL   string
}

// Dispatcher resolves recipients and sends or defers outbound messages.
type Dispatcher struct {
	sessions SessionProvider
	store    pending.Store
	locks    *pending.KeyLock
	fetcher  *media.Fetcher
	hub      *bus.Hub
	tracer   trace.Tracer

	textTimeout  time.Duration
	imageTimeout time.Duration
}

// NewDispatcher wires the dispatcher. locks must be the same KeyLock the
// flusher uses, so enqueue and drain serialize per recipient.
func NewDispatcher(sessions SessionProvider, store pending.Store, locks *pending.KeyLock, fetcher *media.Fetcher, hub *bus.Hub) *Dispatcher {
	if hub == nil {
		hub = bus.New()
	}
	return &Dispatcher{
		sessions:     sessions,
		store:        store,
		locks:        locks,
		fetcher:      fetcher,
		hub:          hub,
		tracer:       otel.Tracer("wagate/dispatch"),
		textTimeout:  textSendTimeout,
		imageTimeout: imageSendTimeout,
	}
}

// Send resolves the recipient and either dispatches immediately or defers.
// A deferred send is reported as a result, not an error: the caller gets
// the pending id for later correlation.
func (d *Dispatcher) Send(ctx context.Context, req Request) (core.SendResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.Send",
		trace.WithAttributes(
			attribute.String("instance.id", req.InstanceID),
			attribute.String("message.kind", string(req.Kind)),
		))
	defer span.End()

	if d.sessions.Status(req.InstanceID) != core.StatusConnected {
		return core.SendResult{}, fmt.Errorf("%w: %s is %s",
			core.ErrNotConnected, req.InstanceID, d.sessions.Status(req.InstanceID))
	}
	sess, ok := d.sessions.Session(req.InstanceID)
	if !ok {
		return core.SendResult{}, fmt.Errorf("%w: %s has no session handle", core.ErrNotConnected, req.InstanceID)
	}
	if _, ok := sess.ConnectedUser(); !ok {
		return core.SendResult{}, fmt.Errorf("%w: %s has no authenticated user", core.ErrNotConnected, req.InstanceID)
	}

	jid := req.To
	if !phone.IsJID(req.To) {
		digits, err := phone.Normalize(req.To)
		if err != nil {
			return core.SendResult{}, err
		}

		lookup, err := sess.Lookup(ctx, digits)
		if err != nil {
			return core.SendResult{}, fmt.Errorf("%w: %v", core.ErrSendFailed, err)
		}
		if !lookup.Exists {
			pendingID, err := d.defer_(ctx, req, digits)
			if err != nil {
				return core.SendResult{}, err
			}
			return core.SendResult{Outcome: core.OutcomeDeferred, PendingID: pendingID}, nil
		}
		jid = lookup.JID
		if jid == "" {
			jid = phone.ToJID(digits)
		}
	}

	out, timeout, err := d.buildOutbound(ctx, req)
	if err != nil {
		return core.SendResult{}, err
	}

	if err := sendWithTimeout(ctx, sess, jid, out, timeout); err != nil {
		return core.SendResult{}, err
	}

	slog.Info("message sent",
		"instance", req.InstanceID, "to", req.To, "kind", req.Kind)
	d.hub.Broadcast(bus.Event{Type: bus.TypeMessageSent, InstanceID: req.InstanceID,
		Data: map[string]any{"to": req.To, "kind": req.Kind}})
	return core.SendResult{Outcome: core.OutcomeSent, RecipientJID: jid}, nil
}

// defer_ parks the message in the pending queue under the per-key lock.
func (d *Dispatcher) defer_(ctx context.Context, req Request, digits string) (string, error) {
	unlock := d.locks.Lock(req.InstanceID, digits)
	defer unlock()

	msg := pending.Message{
		ID:         pending.NewID(),
		InstanceID: req.InstanceID,
		To:         req.To,
		Number:     digits,
		Kind:       req.Kind,
		Body:       req.Body,
		MediaURL:   req.MediaURL,
		Reason:     pending.ReasonContactInactive,
		EnqueuedAt: time.Now(),
	}
	if err := d.store.Enqueue(ctx, msg); err != nil {
		return "", fmt.Errorf("%w: enqueue: %v", core.ErrSendFailed, err)
	}

	slog.Info("message deferred until contact replies",
		"instance", req.InstanceID, "to", req.To, "pending_id", msg.ID)
	d.hub.Broadcast(bus.Event{Type: bus.TypeDeferred, InstanceID: req.InstanceID,
		Data: map[string]any{"to": req.To, "pendingId": msg.ID}})
	return msg.ID, nil
}

// buildOutbound fetches and sanitizes media for image sends. A media-fetch
// failure surfaces before any send attempt or queue write.
func (d *Dispatcher) buildOutbound(ctx context.Context, req Request) (wa.Outbound, time.Duration, error) {
	if req.Kind != core.KindImage {
		return wa.Outbound{Kind: core.KindText, Text: req.Body}, d.textTimeout, nil
	}

	data, contentType, err := d.fetcher.Fetch(ctx, req.MediaURL)
	if err != nil {
		return wa.Outbound{}, 0, err
	}
	data, contentType, err = media.SanitizeImage(data, contentType)
	if err != nil {
		return wa.Outbound{}, 0, fmt.Errorf("%w: %v", core.ErrMediaFetchFailed, err)
	}
	return wa.Outbound{
		Kind:      core.KindImage,
		ImageData: data,
		MimeType:  contentType,
		Caption:   req.Body,
	}, d.imageTimeout, nil
}

// sendWithTimeout maps a deadline expiry to ErrSendTimeout and anything
// else to ErrSendFailed.
func sendWithTimeout(ctx context.Context, sess wa.Session, jid string, out wa.Outbound, timeout time.Duration) error {
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := sess.Send(sendCtx, jid, out)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no ack within %s", core.ErrSendTimeout, timeout)
	}
	return fmt.Errorf("%w: %v", core.ErrSendFailed, err)
}
