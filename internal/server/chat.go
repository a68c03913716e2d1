package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/inference"
	"github.com/chatrelay/chatrelay/internal/prompt"
	"github.com/chatrelay/chatrelay/internal/stats"
	"github.com/chatrelay/chatrelay/pkg/observability"
)

// statsNotifyTimeout bounds how long a fire-and-forget stats write may
// run after its response has been sent.
const statsNotifyTimeout = 10 * time.Second

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleChat runs one chat turn: load history, append the user message,
// prompt the model, append its reply, persist, and notify the stats
// aggregator off the response path.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	decodeLenient(r, &req)

	sessionID := sessionOrDefault(req.SessionID)
	model := s.opts.Variants.Resolve(req.Model)

	ctx := r.Context()

	// Conversation memory is best-effort: a failed load degrades to a
	// fresh conversation instead of failing the turn.
	history, err := s.opts.Conversations.Load(ctx, sessionID)
	if err != nil {
		log.Printf("chat: load history for session %q: %v", sessionID, err)
		history = conversation.History{}
	}

	history = history.Append(conversation.RoleUser, req.Message)

	p := prompt.BuildChatPrompt(history)

	start := time.Now()
	result, err := s.opts.Inference.Generate(ctx, model, p)
	observability.RecordInference(model, time.Since(start), err)
	if err != nil {
		// Reaching the backend at all is the one hard dependency of
		// this path.
		log.Printf("chat: inference failed for session %q: %v", sessionID, err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "inference backend unavailable"})
		return
	}

	reply := result.Reply()
	history = history.Append(conversation.RoleAssistant, reply)

	// The full history is persisted, not just the prompt window.
	if err := s.opts.Conversations.Save(ctx, sessionID, history); err != nil {
		log.Printf("chat: save history for session %q: %v", sessionID, err)
	}

	s.notifyStats(sessionID, stats.Delta{
		MessageLength: len(req.Message),
		ReplyLength:   len(reply),
		Model:         inference.Normalize(req.Model),
	})

	observability.RecordChatTurn(model)
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// notifyStats schedules a usage notification without blocking the reply.
// Failures are counted and logged, never retried or surfaced.
func (s *Server) notifyStats(sessionID string, delta stats.Delta) {
	if s.opts.Stats == nil {
		return
	}

	s.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), statsNotifyTimeout)
		defer cancel()

		if err := s.opts.Stats.Record(ctx, sessionID, delta); err != nil {
			observability.RecordStatsNotifyFailure()
			log.Printf("chat: dropping stats notification for session %q: %v", sessionID, err)
		}
	})
}
