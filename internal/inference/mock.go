package inference

import (
	"context"
	"fmt"
	"sync"
)

// MockService provides a scriptable inference service for testing.
type MockService struct {
	mu      sync.Mutex
	raw     []byte
	err     error
	calls   int
	lastReq struct {
		Model  string
		Prompt string
	}
}

// NewMockService creates a mock that answers every call with the given
// raw payload.
func NewMockService(raw []byte) *MockService {
	return &MockService{raw: raw}
}

// Generate returns the scripted payload or error.
func (m *MockService) Generate(ctx context.Context, model, prompt string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastReq.Model = model
	m.lastReq.Prompt = prompt

	if m.err != nil {
		return nil, m.err
	}
	return NewResult(m.raw), nil
}

// Fail makes subsequent calls return an error.
func (m *MockService) Fail(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = fmt.Errorf("%s", msg)
}

// Calls reports how many times Generate was invoked.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastModel reports the model of the most recent call.
func (m *MockService) LastModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq.Model
}

// LastPrompt reports the prompt of the most recent call.
func (m *MockService) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq.Prompt
}
