package httpapi

import (
	"net/http"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": s.manager.List()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := config.NormalizeInstanceID(r.PathValue("id"))
	_, hasCode := s.manager.PairingCode(id)
	writeJSON(w, http.StatusOK, core.InstanceInfo{
		ID:             id,
		Status:         s.manager.Status(id),
		HasPairingCode: hasCode,
	})
}

// handleQR starts the instance if needed and returns the current pairing
// code: JSON by default, a PNG with ?format=png. 204 when the handshake
// has not produced a code yet.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := config.NormalizeInstanceID(r.PathValue("id"))

	if err := s.manager.Bootstrap(r.Context(), id, false); err != nil {
		writeErr(w, err)
		return
	}

	code, status := s.manager.WaitForPairingCode(r.Context(), id)
	if status == core.StatusConnected {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(core.StatusConnected)})
		return
	}
	if code == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Query().Get("format") == "png" {
		png, err := qrcode.Encode(code, qrcode.Medium, 256)
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qr": code})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := config.NormalizeInstanceID(r.PathValue("id"))
	if err := s.manager.Logout(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"instanceId": id, "status": string(core.StatusDisconnected)})
}

// handleClear signs out and wipes the persisted credentials, so the next
// bootstrap starts from a clean pairing handshake.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := config.NormalizeInstanceID(r.PathValue("id"))
	if err := s.manager.ClearSession(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"instanceId": id, "cleared": "true"})
}

// handleRestart forces a fresh handshake, invalidating any displayed code.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := config.NormalizeInstanceID(r.PathValue("id"))
	if err := s.manager.Bootstrap(r.Context(), id, true); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"instanceId": id, "status": string(s.manager.Status(id))})
}

type sendRequest struct {
	InstanceID string `json:"instanceId"`
	To         string `json:"to"`
	Kind       string `json:"kind"`
	Body       string `json:"body"`
	MediaURL   string `json:"mediaUrl"`
}

// handleSend accepts an outbound message. A sent message returns 200; a
// deferred one returns 202 with the pending id.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to is required"})
		return
	}
	kind := core.MessageKind(req.Kind)
	if kind == "" {
		kind = core.KindText
	}
	if kind != core.KindText && kind != core.KindImage {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be text or image"})
		return
	}
	if kind == core.KindImage && req.MediaURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mediaUrl is required for image sends"})
		return
	}
	if req.InstanceID == "" {
		req.InstanceID = config.DefaultInstanceID
	}

	res, err := s.dispatcher.Send(r.Context(), dispatch.Request{
		InstanceID: config.NormalizeInstanceID(req.InstanceID),
		To:         req.To,
		Kind:       kind,
		Body:       req.Body,
		MediaURL:   req.MediaURL,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.Outcome == core.OutcomeDeferred {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
