package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/inference"
	"github.com/chatrelay/chatrelay/internal/stats"
)

type fixture struct {
	server *Server
	store  *conversation.RedisStore
	mock   *inference.MockService
	stats  *stats.Store
}

// newFixture wires a server over miniredis, a mock inference backend
// and an in-memory stats store.
func newFixture(t *testing.T, payload string, withStats bool) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := conversation.NewRedisStoreFromClient(client, "test:", 0)
	t.Cleanup(func() { _ = store.Close() })

	mock := inference.NewMockService([]byte(payload))

	var statsStore *stats.Store
	if withStats {
		statsStore = stats.NewStore(stats.NewMemoryBackend())
	}

	srv := New(Options{
		Conversations: store,
		Inference:     mock,
		Variants:      inference.DefaultVariants(),
		Stats:         statsStore,
	})

	return &fixture{server: srv, store: store, mock: mock, stats: statsStore}
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

// drain waits for fire-and-forget background tasks to finish.
func (f *fixture) drain(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestChat_Scenario(t *testing.T) {
	f := newFixture(t, `{"response":"Hello! How can I help?"}`, true)

	w := f.post(t, "/chat", `{"message":"Hi","sessionId":"s1","model":"fast"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decodeBody[chatResponse](t, w)
	if resp.Reply != "Hello! How can I help?" {
		t.Errorf("reply = %q", resp.Reply)
	}

	// History holds the full turn.
	history, err := f.store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := conversation.History{
		{Role: conversation.RoleUser, Content: "Hi"},
		{Role: conversation.RoleAssistant, Content: "Hello! How can I help?"},
	}
	if len(history) != 2 || history[0] != want[0] || history[1] != want[1] {
		t.Errorf("history = %+v, want %+v", history, want)
	}

	// Stats arrive after the background notification drains.
	f.drain(t)

	record, err := f.stats.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("stats Get failed: %v", err)
	}
	if record.Messages != 1 {
		t.Errorf("messages = %d, want 1", record.Messages)
	}
	if record.TotalUserChars != 2 {
		t.Errorf("totalUserChars = %d, want 2", record.TotalUserChars)
	}
	if record.TotalAssistantChars != len("Hello! How can I help?") {
		t.Errorf("totalAssistantChars = %d", record.TotalAssistantChars)
	}
	if record.Models["fast"] != 1 {
		t.Errorf("models = %v, want fast:1", record.Models)
	}
}

func TestChat_MalformedBodyDefaults(t *testing.T) {
	f := newFixture(t, `"ok"`, false)

	w := f.post(t, "/chat", `{not json at all`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for malformed body", w.Code)
	}

	// Defaults routed the turn to the "default" session.
	history, err := f.store.Load(context.Background(), DefaultSessionID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages in default session, got %d", len(history))
	}
	if history[0].Content != "" {
		t.Errorf("expected empty user message, got %q", history[0].Content)
	}
}

func TestChat_MistypedFieldDropsWholeBody(t *testing.T) {
	f := newFixture(t, `"ok"`, false)

	// message decodes before sessionId fails its type check; the partial
	// decode must not survive.
	w := f.post(t, "/chat", `{"message":"hi","sessionId":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for mistyped body", w.Code)
	}

	history, err := f.store.Load(context.Background(), DefaultSessionID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages in default session, got %d", len(history))
	}
	if history[0].Content != "" {
		t.Errorf("user message = %q, want empty after discarded body", history[0].Content)
	}
}

func TestChat_ModelSelection(t *testing.T) {
	tests := []struct {
		selector string
		want     string
	}{
		{"fast", inference.DefaultFastModel},
		{"quality", inference.DefaultQualityModel},
		{"", inference.DefaultFastModel},
		{"nonsense", inference.DefaultFastModel},
	}

	for _, tt := range tests {
		f := newFixture(t, `"ok"`, false)
		f.post(t, "/chat", `{"message":"x","sessionId":"s","model":"`+tt.selector+`"}`)
		if got := f.mock.LastModel(); got != tt.want {
			t.Errorf("selector %q: model = %q, want %q", tt.selector, got, tt.want)
		}
	}
}

func TestChat_PromptWindow(t *testing.T) {
	f := newFixture(t, `"ok"`, false)
	ctx := context.Background()

	// Seed a long history.
	var history conversation.History
	for i := 0; i < 20; i++ {
		history = history.Append(conversation.RoleUser, "old")
		history = history.Append(conversation.RoleAssistant, "older")
	}
	if err := f.store.Save(ctx, "long", history); err != nil {
		t.Fatalf("seed Save failed: %v", err)
	}

	f.post(t, "/chat", `{"message":"the new question","sessionId":"long"}`)

	p := f.mock.LastPrompt()
	if !strings.Contains(p, "User: the new question") {
		t.Error("new user message missing from prompt window")
	}
	if got := strings.Count(p, "\n"); got > 12 {
		t.Errorf("prompt has %d lines worth of transcript, window not applied", got)
	}

	// The saved history is untruncated: 40 seeded + 2 new.
	saved, err := f.store.Load(ctx, "long")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(saved) != 42 {
		t.Errorf("saved history length = %d, want 42", len(saved))
	}
}

func TestChat_UnexpectedInferenceShape(t *testing.T) {
	f := newFixture(t, `{"weird":"shape"}`, false)

	w := f.post(t, "/chat", `{"message":"hi","sessionId":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: shape mismatch must not fail the request", w.Code)
	}

	resp := decodeBody[chatResponse](t, w)
	if resp.Reply != inference.UnexpectedReply {
		t.Errorf("reply = %q, want placeholder", resp.Reply)
	}
}

func TestChat_InferenceTransportFailure(t *testing.T) {
	f := newFixture(t, `"ok"`, true)
	f.mock.Fail("backend down")

	w := f.post(t, "/chat", `{"message":"hi","sessionId":"s1"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	resp := decodeBody[errorResponse](t, w)
	if resp.Error == "" {
		t.Error("expected non-empty error field")
	}

	// A failed turn records nothing.
	f.drain(t)
	record, err := f.stats.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("stats Get failed: %v", err)
	}
	if record.Messages != 0 {
		t.Errorf("messages = %d, want 0 after failed turn", record.Messages)
	}
}

func TestChat_StatsFailureDoesNotAffectReply(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := conversation.NewRedisStoreFromClient(client, "test:", 0)
	t.Cleanup(func() { _ = store.Close() })

	// A backend that always fails its writes.
	statsStore := stats.NewStore(failingBackend{})

	srv := New(Options{
		Conversations: store,
		Inference:     inference.NewMockService([]byte(`"ok"`)),
		Variants:      inference.DefaultVariants(),
		Stats:         statsStore,
	})
	f := &fixture{server: srv, store: store}

	w := f.post(t, "/chat", `{"message":"hi","sessionId":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite stats failure", w.Code)
	}
	resp := decodeBody[chatResponse](t, w)
	if resp.Reply != "ok" {
		t.Errorf("reply = %q, want %q", resp.Reply, "ok")
	}
	f.drain(t)
}

type failingBackend struct{}

func (failingBackend) Get(string) ([]byte, bool, error) { return nil, false, nil }
func (failingBackend) Put(string, []byte) error {
	return context.DeadlineExceeded
}

func TestSummary_EmptySession(t *testing.T) {
	f := newFixture(t, `"should never be used"`, false)

	w := f.post(t, "/summary", `{"sessionId":"fresh"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decodeBody[summaryResponse](t, w)
	if resp.Summary != NoConversationSummary {
		t.Errorf("summary = %q, want %q", resp.Summary, NoConversationSummary)
	}
	if f.mock.Calls() != 0 {
		t.Errorf("inference called %d times for empty session, want 0", f.mock.Calls())
	}
}

func TestSummary_FullHistory(t *testing.T) {
	f := newFixture(t, `{"output_text":"- talked about Go"}`, false)
	ctx := context.Background()

	var history conversation.History
	for i := 0; i < 15; i++ {
		history = history.Append(conversation.RoleUser, "question")
		history = history.Append(conversation.RoleAssistant, "answer")
	}
	if err := f.store.Save(ctx, "s1", history); err != nil {
		t.Fatalf("seed Save failed: %v", err)
	}

	w := f.post(t, "/summary", `{"sessionId":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decodeBody[summaryResponse](t, w)
	if resp.Summary != "- talked about Go" {
		t.Errorf("summary = %q", resp.Summary)
	}

	// Summary prompts carry the whole history and use the fast model.
	if got := strings.Count(f.mock.LastPrompt(), "question"); got != 15 {
		t.Errorf("prompt contains %d of 15 user turns", got)
	}
	if f.mock.LastModel() != inference.DefaultFastModel {
		t.Errorf("summary model = %q, want fast variant", f.mock.LastModel())
	}
}

func TestAnalytics_Unconfigured(t *testing.T) {
	f := newFixture(t, `"ok"`, false)

	w := f.post(t, "/analytics", `{"sessionId":"s1"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when stats are not configured", w.Code)
	}

	resp := decodeBody[errorResponse](t, w)
	if resp.Error == "" {
		t.Error("expected non-empty error field")
	}
}

func TestAnalytics_NeverRecordedSession(t *testing.T) {
	f := newFixture(t, `"ok"`, true)

	w := f.post(t, "/analytics", `{"sessionId":"ghost"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	record := decodeBody[stats.SessionStats](t, w)
	if record.Messages != 0 || record.CreatedAt != nil || record.UpdatedAt != nil {
		t.Errorf("expected zero record with null timestamps, got %+v", record)
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t, `"ok"`, false)

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("preflight body = %q, want empty", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestCORS_OnResponses(t *testing.T) {
	f := newFixture(t, `"ok"`, false)

	w := f.post(t, "/chat", `{"message":"hi"}`)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestFallback_Banner(t *testing.T) {
	f := newFixture(t, `"ok"`, false)

	for _, path := range []string{"/", "/nope", "/chat/extra"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "chatrelay") {
			t.Errorf("GET %s body = %q, want banner", path, w.Body.String())
		}
	}

	// Non-POST on an API path also falls back to the banner.
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "chatrelay") {
		t.Errorf("GET /chat body = %q, want banner", w.Body.String())
	}
}

func TestChat_RepeatTurnsAccumulateStats(t *testing.T) {
	f := newFixture(t, `"reply"`, true)

	f.post(t, "/chat", `{"message":"one","sessionId":"s1","model":"fast"}`)
	f.post(t, "/chat", `{"message":"two","sessionId":"s1","model":"quality"}`)
	f.post(t, "/chat", `{"message":"three","sessionId":"s1"}`)
	f.drain(t)

	w := f.post(t, "/analytics", `{"sessionId":"s1"}`)
	record := decodeBody[stats.SessionStats](t, w)

	if record.Messages != 3 {
		t.Errorf("messages = %d, want 3", record.Messages)
	}
	if record.TotalUserChars != len("one")+len("two")+len("three") {
		t.Errorf("totalUserChars = %d", record.TotalUserChars)
	}
	if record.Models["fast"] != 2 || record.Models["quality"] != 1 {
		t.Errorf("models = %v, want fast:2 quality:1", record.Models)
	}
}
