// Package alert delivers connectivity notifications to an external
// monitoring webhook. Notifications are fire-and-forget: a failing sink
// must never abort a core operation.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Event is one connectivity notification.
type Event struct {
	InstanceID string         `json:"instanceId"`
	Status     string         `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}

// Notifier is the alerting sink capability.
type Notifier interface {
	Notify(ev Event)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(Event) {}

// Webhook POSTs notifications as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. Returns a Nop notifier when the
// URL is empty.
func NewWebhook(url string) Notifier {
	if url == "" {
		return Nop{}
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify posts the event in the background. Failures are logged, never
// propagated.
func (w *Webhook) Notify(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	go func() {
		body, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("alert: marshal failed", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("alert: build request failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			slog.Warn("alert: webhook unreachable", "instance", ev.InstanceID, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			slog.Warn("alert: webhook rejected event",
				"instance", ev.InstanceID, "status", resp.StatusCode)
		}
	}()
}
