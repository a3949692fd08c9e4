package synth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/otohalabs/otoha/internal/artifact"
	"github.com/otohalabs/otoha/internal/protocol"
)

// Register mounts the generation endpoints on the runtime mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("GET /voice/{voiceID}", s.handleVoice)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("POST /cleanup", s.handleCleanup)
}

func (s *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req protocol.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid request body"})
		return
	}
	rate := 160
	if req.Rate != nil {
		rate = *req.Rate
	}
	pitch := 45
	if req.Pitch != nil {
		pitch = *req.Pitch
	}

	art, err := s.Generate(r.Context(), GenerateRequest{
		Text:  req.Text,
		Voice: req.Voice,
		Rate:  rate,
		Pitch: pitch,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrEmptyText) || errors.Is(err, ErrVoiceNotAvailable) {
			status = http.StatusBadRequest
		} else {
			s.log.Error("generate failed", slogError(err))
		}
		writeJSON(w, status, protocol.ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, protocol.GenerateResponse{
		Success:      true,
		VoiceID:      art.VoiceID,
		Size:         art.Size,
		SHA256:       art.SHA256,
		DownloadPath: art.DownloadPath,
		Settings:     art.Settings,
	})
}

func (s *Service) handleVoice(w http.ResponseWriter, r *http.Request) {
	voiceID := r.PathValue("voiceID")
	data, err := s.Fetch(voiceID)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "voice not found"})
			return
		}
		s.log.Error("fetch artifact failed", slog.String("voice_id", voiceID), slogError(err))
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: "internal error"})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename=voice.wav`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Service) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.ListVoices(r.Context())
	if err != nil {
		s.log.Error("list voices failed", slogError(err))
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	out := make([]protocol.VoiceInfo, 0, len(voices))
	for _, v := range voices {
		out = append(out, protocol.VoiceInfo{Name: v.Name, Language: v.Language})
	}
	writeJSON(w, http.StatusOK, protocol.VoicesResponse{Success: true, Voices: out})
}

func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req protocol.CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An absent or malformed body falls back to the defaults.
		req = protocol.CleanupRequest{}
	}
	maxAge := 3600
	if req.MaxAgeSeconds != nil {
		maxAge = *req.MaxAgeSeconds
	}
	keepLatest := true
	if req.KeepLatest != nil {
		keepLatest = *req.KeepLatest
	}

	deleted, err := s.Sweep(time.Duration(maxAge)*time.Second, keepLatest)
	if err != nil {
		s.log.Error("cleanup failed", slogError(err))
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.CleanupResponse{Success: true, Deleted: deleted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
