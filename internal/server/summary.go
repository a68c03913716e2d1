package server

import (
	"log"
	"net/http"
	"time"

	"github.com/chatrelay/chatrelay/internal/prompt"
	"github.com/chatrelay/chatrelay/pkg/observability"
)

// NoConversationSummary is returned when a session has no history to
// summarize. The model is not invoked in that case.
const NoConversationSummary = "No conversation yet."

type summaryRequest struct {
	SessionID string `json:"sessionId"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// handleSummary summarizes a session's full stored history. Summaries
// always use the fast variant regardless of the client's chat model
// selection.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	decodeLenient(r, &req)

	sessionID := sessionOrDefault(req.SessionID)
	ctx := r.Context()

	history, err := s.opts.Conversations.Load(ctx, sessionID)
	if err != nil {
		log.Printf("summary: load history for session %q: %v", sessionID, err)
		history = nil
	}

	if len(history) == 0 {
		writeJSON(w, http.StatusOK, summaryResponse{Summary: NoConversationSummary})
		return
	}

	model := s.opts.Variants.Resolve("")
	p := prompt.BuildSummaryPrompt(history)

	start := time.Now()
	result, err := s.opts.Inference.Generate(ctx, model, p)
	observability.RecordInference(model, time.Since(start), err)
	if err != nil {
		log.Printf("summary: inference failed for session %q: %v", sessionID, err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "inference backend unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{Summary: result.Reply()})
}
