package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/1475505/Miliastra-toolbox/internal/llm"
	"github.com/1475505/Miliastra-toolbox/internal/session"
	"github.com/1475505/Miliastra-toolbox/internal/storage"
)

// envelope is the fixed response shape of every blocking endpoint.
// Failures are a structured value, never a bare status code.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// chatRequest is the wire form of a turn. Per-request credentials ride
// alongside the session fields and override the service defaults.
type chatRequest struct {
	session.Request
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

func (c *chatRequest) toSession() session.Request {
	req := c.Request
	if c.APIKey != "" || c.BaseURL != "" || c.Model != "" {
		req.Credentials = &llm.Credentials{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
		}
	}
	return req
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid request body"})
		return
	}

	result, err := s.engine.Run(r.Context(), req.toSession())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: result})
}

// handleChatStream writes one JSON event per line. Heartbeat events
// become bare ":" comment lines so clients can tell liveness signals
// from payload without parsing JSON.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid request body"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range s.engine.Stream(r.Context(), req.toSession()) {
		if ev.Type == session.EventHeartbeat {
			if _, err := w.Write([]byte(":\n")); err != nil {
				return
			}
			flusher.Flush()
			continue
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.index.Count(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"collection":       s.collection,
		"chunks":           count,
		"limited_channels": s.ledger.LimitedChannels(),
	}})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid channel id"})
		return
	}
	decision := s.ledger.Usage(r.Context(), channel)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: decision})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var quotaErr *session.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, envelope{
			Error: quotaErr.Error(),
			Data:  quotaErr.Decision,
		})
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrMissingCredentials):
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
	case errors.Is(err, storage.ErrIndexUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
