package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/otohalabs/otoha/internal/protocol"
	"github.com/otohalabs/otoha/internal/responder"
)

// Register mounts the delivery and chat endpoints on the runtime mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /notify/pending", s.handlePending)
	mux.HandleFunc("GET /voice/latest", s.handleLatestVoice)
	mux.HandleFunc("POST /chat", s.handleChat)
}

func (s *Service) handlePending(w http.ResponseWriter, r *http.Request) {
	if n, ok := s.queue.Pop(); ok {
		writeJSON(w, http.StatusOK, protocol.PendingResponse{Success: true, Notification: &n})
		return
	}
	writeJSON(w, http.StatusOK, protocol.PendingResponse{Success: true, Notification: nil})
}

// handleLatestVoice distinguishes "not generated yet" (202, retry soon)
// from "generation or fetch failed" (502, retry later) so the polling
// client can tell the two apart. Cache headers forbid caching so stale
// audio is never replayed.
func (s *Service) handleLatestVoice(w http.ResponseWriter, r *http.Request) {
	snap := s.latest.Snapshot()

	if !snap.Ready {
		writeJSON(w, http.StatusAccepted, protocol.ErrorResponse{Status: "not_ready"})
		return
	}
	if snap.VoiceURL == "" {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Status: "missing"})
		return
	}

	data, err := s.voice.FetchAudio(r.Context(), snap.VoiceURL)
	if err != nil {
		status := "upstream_unreachable"
		if errors.Is(err, ErrUpstreamStatus) {
			status = "upstream_error"
		}
		s.logger.Warn("latest voice fetch failed", slogError(err))
		writeJSON(w, http.StatusBadGateway, protocol.ErrorResponse{Status: status})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename=voice.wav`)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Voice-Id", snap.VoiceID)
	w.Header().Set("X-Voice-Name", snap.Settings.Voice)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "text is required"})
		return
	}
	speaker := req.Speaker
	if speaker == "" {
		speaker = "yuki"
	}

	history, err := s.mem.Context(r.Context(), speaker, 0)
	if err != nil {
		s.logger.Warn("failed to load conversation context", slogError(err))
	}

	reply, err := s.respond.Reply(r.Context(), responder.Request{Text: req.Text, Speaker: speaker, Context: history})
	if err != nil {
		s.logger.Error("responder failed", slogError(err))
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.mem.AddConversation(r.Context(), speaker, req.Text, reply); err != nil {
		s.logger.Warn("failed to record chat in memory", slogError(err))
	}

	writeJSON(w, http.StatusOK, protocol.ChatResponse{Success: true, Response: reply})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
