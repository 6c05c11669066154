// Package httpapi exposes the gateway over HTTP: instance lifecycle and
// pairing endpoints, the send endpoint, queue stats, and a websocket event
// stream. All routes sit behind an optional bearer token.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
	"github.com/nextlevelbuilder/wagate/internal/instance"
	"github.com/nextlevelbuilder/wagate/internal/pending"
)

// Server is the gateway HTTP API.
type Server struct {
	manager    *instance.Manager
	dispatcher *dispatch.Dispatcher
	store      pending.Store
	hub        *bus.Hub
	token      string

	httpServer *http.Server
}

// New builds the server. An empty token disables auth.
func New(addr, token string, manager *instance.Manager, dispatcher *dispatch.Dispatcher, store pending.Store, hub *bus.Hub) *Server {
	s := &Server{
		manager:    manager,
		dispatcher: dispatcher,
		store:      store,
		hub:        hub,
		token:      token,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wa/instances", s.auth(s.handleInstances))
	mux.HandleFunc("GET /api/wa/status/{id}", s.auth(s.handleStatus))
	mux.HandleFunc("GET /api/wa/qr/{id}", s.auth(s.handleQR))
	mux.HandleFunc("POST /api/wa/logout/{id}", s.auth(s.handleLogout))
	mux.HandleFunc("POST /api/wa/clear/{id}", s.auth(s.handleClear))
	mux.HandleFunc("POST /api/wa/restart/{id}", s.auth(s.handleRestart))
	mux.HandleFunc("POST /api/send", s.auth(s.handleSend))
	mux.HandleFunc("GET /api/send/stats", s.auth(s.handleStats))
	mux.HandleFunc("GET /api/ws/events", s.handleWS) // token checked in query param
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens and serves until Stop.
func (s *Server) Start() error {
	slog.Info("http api listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// auth wraps a handler with bearer-token verification.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.tokenMatch(extractBearerToken(r)) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) tokenMatch(provided string) bool {
	if s.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) == 1
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// writeErr maps domain errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidFormat):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, core.ErrSendTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, core.ErrMediaFetchFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTransportUnavailable):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
