package server

import (
	"log"
	"net/http"
)

type analyticsRequest struct {
	SessionID string `json:"sessionId"`
}

// handleAnalytics returns a session's usage counters verbatim. Stats
// failures here are reported to the caller rather than swallowed.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "analytics not configured"})
		return
	}

	var req analyticsRequest
	decodeLenient(r, &req)

	sessionID := sessionOrDefault(req.SessionID)

	record, err := s.opts.Stats.Get(r.Context(), sessionID)
	if err != nil {
		log.Printf("analytics: get stats for session %q: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "analytics unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, record)
}
