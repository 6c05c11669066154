package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/phone"
	"github.com/nextlevelbuilder/wagate/internal/wa"
)

// autoReplyDelay is a small pause before the canned answer goes out, so
// the reply does not land the same instant the inbound message arrives.
const autoReplyDelay = time.Second

// AutoReply answers inbound texts that contain one of the configured
// keywords. Matching is whole-word, case-insensitive and diacritic-folded,
// so "Menú" matches the keyword "menu".
type AutoReply struct {
	sessions SessionProvider

	mu       sync.RWMutex
	enabled  bool
	message  string
	keywords []string

	delay time.Duration
}

// NewAutoReply builds the responder. Keywords are folded once up front.
func NewAutoReply(sessions SessionProvider, enabled bool, message string, keywords []string) *AutoReply {
	a := &AutoReply{sessions: sessions, delay: autoReplyDelay}
	a.Update(enabled, message, keywords)
	return a
}

// Update swaps the responder settings. Safe to call while inbound traffic
// is flowing; config hot reload calls it.
func (a *AutoReply) Update(enabled bool, message string, keywords []string) {
	folded := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = phone.FoldText(kw)
		if kw != "" {
			folded = append(folded, kw)
		}
	}
	a.mu.Lock()
	a.enabled = enabled
	a.message = message
	a.keywords = folded
	a.mu.Unlock()
}

// Consider checks an inbound text against the keyword list and, on a
// match, replies after a short delay.
func (a *AutoReply) Consider(ctx context.Context, instanceID, senderJID, text string) {
	a.mu.RLock()
	enabled, message, keywords := a.enabled, a.message, a.keywords
	a.mu.RUnlock()
	if !enabled || message == "" || text == "" {
		return
	}

	if !matchKeyword(text, keywords) {
		return
	}

	sess, ok := a.sessions.Session(instanceID)
	if !ok {
		return
	}

	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return
	}

	err := sendWithTimeout(ctx, sess, senderJID, wa.Outbound{Kind: core.KindText, Text: message}, textSendTimeout)
	if err != nil {
		slog.Error("auto-reply send failed", "instance", instanceID, "to", senderJID, "error", err)
		return
	}
	slog.Info("auto-reply sent", "instance", instanceID, "to", senderJID)
}

// matchKeyword folds the text and looks for any keyword as a whole word.
func matchKeyword(text string, keywords []string) bool {
	words := strings.Fields(phone.FoldText(text))
	for _, kw := range keywords {
		for _, w := range words {
			if w == kw {
				return true
			}
		}
	}
	return false
}
