// Package server exposes the chat relay over HTTP: /chat, /summary and
// /analytics, plus metrics and health endpoints. It owns the three
// request orchestrators and the background-task pool that lets stats
// notifications outlive their originating request.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/inference"
	"github.com/chatrelay/chatrelay/internal/stats"
	"github.com/chatrelay/chatrelay/pkg/observability"
)

// DefaultSessionID is used when a request carries no session id.
const DefaultSessionID = "default"

const banner = "chatrelay (chat + summary + analytics)"

// Options wires the server's collaborators.
type Options struct {
	// Addr is the listen address.
	Addr string

	// Conversations stores per-session history.
	Conversations conversation.Store

	// Inference invokes the model backend.
	Inference inference.Service

	// Variants maps client model selectors to model names.
	Variants inference.Variants

	// Stats aggregates usage counters. Nil disables the analytics
	// subsystem; /analytics then reports it as unconfigured.
	Stats *stats.Store

	// Health serves the /health endpoint (optional).
	Health *observability.HealthChecker
}

// Server is the chat relay HTTP server.
type Server struct {
	opts       Options
	httpServer *http.Server
	bg         sync.WaitGroup
}

// New creates a Server from its collaborators.
func New(opts Options) *Server {
	return &Server{opts: opts}
}

// Handler builds the full request handler, exported so tests can drive
// it through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/chat", s.requirePost(s.handleChat))
	mux.HandleFunc("/summary", s.requirePost(s.handleSummary))
	mux.HandleFunc("/analytics", s.requirePost(s.handleAnalytics))

	mux.Handle("/metrics", observability.MetricsHandler())
	if s.opts.Health != nil {
		mux.HandleFunc("/health", s.opts.Health.HealthHandler())
	}

	// Anything else answers with a liveness banner.
	mux.HandleFunc("/", s.handleFallback)

	return withCORS(withMetrics(mux))
}

// Start runs the HTTP listener until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener and then drains background tasks for as
// long as the context allows; tasks still pending at the deadline are
// abandoned.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("server: abandoning pending background tasks: %v", ctx.Err())
	}

	return err
}

// background schedules a task that must be allowed to finish after the
// originating response has already been written.
func (s *Server) background(task func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		task()
	}()
}

// requirePost routes non-POST traffic to the fallback banner, mirroring
// the endpoints' contract of answering something on every path.
func (s *Server) requirePost(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.handleFallback(w, r)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, banner)
}

// decodeLenient parses a JSON request body into v. Malformed or missing
// bodies are not errors; v is left at its zero value and per-field
// defaults apply downstream. json.Unmarshal fills fields it decoded
// before hitting an error, so the zero value is restored wholesale to
// keep a half-decoded body from leaking through.
func decodeLenient[T any](r *http.Request, v *T) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		return
	}
	if err := json.Unmarshal(body, v); err != nil {
		log.Printf("server: ignoring malformed request body: %v", err)
		var zero T
		*v = zero
	}
}

func sessionOrDefault(sessionID string) string {
	if sessionID == "" {
		return DefaultSessionID
	}
	return sessionID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withCORS adds permissive cross-origin headers to every response and
// answers OPTIONS preflights with an empty 200.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		observability.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}
