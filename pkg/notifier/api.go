// Copyright 2024-2026 Aiku AI

package notifier

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxRequestBodySize bounds webhook request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// EventRequest is the body of POST /api/event.
type EventRequest struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// ProgressRequest is the body of POST /api/progress.
type ProgressRequest struct {
	Storage  string `json:"storage"`
	Path     string `json:"path"`
	Progress int    `json:"progress"`
}

// Handler returns the HTTP handler of the webhook API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/event", s.HandleEvent)
	mux.HandleFunc("/api/progress", s.HandleProgress)
	mux.HandleFunc("/api/reload", s.HandleReload)
	mux.HandleFunc("/api/plugin", s.HandlePlugin)
	return mux
}

// HandleEvent is an HTTP handler for POST /api/event. The event is handled
// in the background and the request is answered with 202 Accepted.
func (s *Service) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req EventRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Event == "" {
		http.Error(w, "missing event name", http.StatusBadRequest)
		return
	}

	s.log.Debug().
		Str("remote_addr", r.RemoteAddr).
		Str("event", req.Event).
		Msg("Event received over webhook")

	s.background(func() {
		s.Notifier.OnEvent(s.ctx, req.Event, req.Payload)
	})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleProgress is an HTTP handler for POST /api/progress.
func (s *Service) HandleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ProgressRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Progress < 0 || req.Progress > 100 {
		http.Error(w, "progress must be between 0 and 100", http.StatusBadRequest)
		return
	}

	s.background(func() {
		s.Notifier.OnPrintProgress(s.ctx, req.Storage, req.Path, req.Progress)
	})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleReload is an HTTP handler for POST /api/reload. It re-reads the
// config file; an invalid file keeps the current config.
func (s *Service) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Config reload requested")

	if err := s.Reload(); err != nil {
		status := http.StatusInternalServerError
		if IsConfigError(err) {
			status = http.StatusUnprocessableEntity
		}
		s.writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	cfg := s.Notifier.Config()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"room":   cfg.Room,
		"events": len(cfg.Events),
	})
}

// HandlePlugin is an HTTP handler for GET /api/plugin.
func (s *Service) HandlePlugin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Notifier.pluginInfo(s.Version))
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "failed to read body", http.StatusBadRequest)
		}
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write API response")
	}
}
