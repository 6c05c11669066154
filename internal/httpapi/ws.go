package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is token-guarded; cross-origin dashboards are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	// wsSendBuffer bounds the per-client queue; a stalled client gets
	// dropped rather than blocking the broadcast path.
	wsSendBuffer = 64
)

// handleWS streams gateway events to the client as JSON frames. The token
// travels in the query string because browsers cannot set websocket
// headers.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.tokenMatch(r.URL.Query().Get("token")) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	subID := uuid.NewString()
	events := make(chan bus.Event, wsSendBuffer)
	s.hub.Subscribe(subID, func(ev bus.Event) {
		select {
		case events <- ev:
		default:
			// client too slow, drop the event
		}
	})
	defer s.hub.Unsubscribe(subID)

	slog.Info("websocket client connected", "sub", subID, "remote", r.RemoteAddr)
	defer conn.Close()

	// reader: only consumes control frames and detects close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
