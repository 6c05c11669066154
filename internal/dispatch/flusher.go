package dispatch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/media"
	"github.com/nextlevelbuilder/wagate/internal/pending"
	"github.com/nextlevelbuilder/wagate/internal/phone"
	"github.com/nextlevelbuilder/wagate/internal/wa"
)

// flushRate paces queue drains so a long backlog does not burst out in
// one instant. Roughly two messages per second, matching the pacing of
// a human-ish sender.
var flushRate = rate.Every(500 * time.Millisecond)

// Flusher reacts to inbound messages: once a recipient writes in, every
// message parked for that recipient flushes out in enqueue order. It also
// drives the optional auto-responder.
type Flusher struct {
	sessions SessionProvider
	store    pending.Store
	locks    *pending.KeyLock
	fetcher  *media.Fetcher
	hub      *bus.Hub
	limiter  *rate.Limiter

	autoReply *AutoReply

	textTimeout  time.Duration
	imageTimeout time.Duration
}

// NewFlusher wires the flush trigger. locks must be shared with the
// dispatcher; autoReply may be nil.
func NewFlusher(sessions SessionProvider, store pending.Store, locks *pending.KeyLock, fetcher *media.Fetcher, hub *bus.Hub, autoReply *AutoReply) *Flusher {
	if hub == nil {
		hub = bus.New()
	}
	return &Flusher{
		sessions:     sessions,
		store:        store,
		locks:        locks,
		fetcher:      fetcher,
		hub:          hub,
		limiter:      rate.NewLimiter(flushRate, 1),
		autoReply:    autoReply,
		textTimeout:  textSendTimeout,
		imageTimeout: imageSendTimeout,
	}
}

// HandleInbound is the connection manager's inbound callback. Group and
// broadcast senders are ignored; individual senders unlock their queue.
// The auto-reply goes out first, then the parked backlog: the contact gets
// the greeting before the older messages.
func (f *Flusher) HandleInbound(ctx context.Context, instanceID, senderJID, text string) {
	digits, ok := phone.JIDToDigits(senderJID)
	if !ok {
		return
	}

	if f.autoReply != nil {
		f.autoReply.Consider(ctx, instanceID, senderJID, text)
	}

	f.flush(ctx, instanceID, digits)
}

// flush drains and sends everything parked for one recipient. The per-key
// lock keeps a concurrent enqueue from landing between the drain and the
// sends. Failed sends are logged and dropped; one bad message must not
// wedge the rest of the backlog.
func (f *Flusher) flush(ctx context.Context, instanceID, digits string) {
	unlock := f.locks.Lock(instanceID, digits)
	defer unlock()

	// Session check precedes the drain: a drain is final, so without a
	// handle the messages must stay parked for the next inbound.
	sess, ok := f.sessions.Session(instanceID)
	if !ok {
		slog.Warn("pending flush skipped, no live session", "instance", instanceID, "number", digits)
		return
	}

	msgs, err := f.store.Drain(ctx, instanceID, digits)
	if err != nil {
		slog.Error("pending drain failed", "instance", instanceID, "number", digits, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	jid := phone.ToJID(digits)

	slog.Info("flushing pending messages", "instance", instanceID, "number", digits, "count", len(msgs))
	sent := 0
	for _, msg := range msgs {
		if err := f.limiter.Wait(ctx); err != nil {
			slog.Warn("pending flush aborted", "instance", instanceID, "error", err)
			break
		}
		if err := f.sendOne(ctx, sess, jid, msg); err != nil {
			slog.Error("pending message send failed",
				"instance", instanceID, "pending_id", msg.ID, "error", err)
			continue
		}
		sent++
	}

	f.hub.Broadcast(bus.Event{Type: bus.TypeFlushed, InstanceID: instanceID,
		Data: map[string]any{"number": digits, "drained": len(msgs), "sent": sent}})
}

func (f *Flusher) sendOne(ctx context.Context, sess wa.Session, jid string, msg pending.Message) error {
	out := wa.Outbound{Kind: core.KindText, Text: msg.Body}
	timeout := f.textTimeout
	if msg.Kind == core.KindImage {
		data, contentType, err := f.fetcher.Fetch(ctx, msg.MediaURL)
		if err != nil {
			return err
		}
		data, contentType, err = media.SanitizeImage(data, contentType)
		if err != nil {
			return err
		}
		out = wa.Outbound{Kind: core.KindImage, ImageData: data, MimeType: contentType, Caption: msg.Body}
		timeout = f.imageTimeout
	}
	return sendWithTimeout(ctx, sess, jid, out, timeout)
}
