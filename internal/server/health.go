package server

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Timestamp string `json:"timestamp"`
}

// handleHealth checks vector store connectivity with a short timeout so a
// hung store cannot wedge the probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := s.index.Health(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Index = "disconnected"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status = "healthy"
	resp.Index = "connected"
	writeJSON(w, http.StatusOK, resp)
}
