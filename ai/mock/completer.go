package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/conductor/ai"
)

// MockCompleter is a test double for ai.Completer.
type MockCompleter struct {
	// CompleteFunc is called by Complete if set. If nil, the mock echoes the
	// last user message prefixed with "summary: ".
	CompleteFunc func(ctx context.Context, req ai.CompletionRequest) (string, error)

	mu       sync.Mutex
	requests []ai.CompletionRequest
}

// NewMockCompleter creates a mock completer with default echo behavior.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// Complete records the request and returns the injected or default response.
func (m *MockCompleter) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var last string
	for _, msg := range req.Messages {
		if msg.Role == ai.RoleUser {
			last = msg.Content
		}
	}
	return "summary: " + strings.TrimSpace(last), nil
}

// CallCount returns the number of Complete calls.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request seen so far.
func (m *MockCompleter) Requests() []ai.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears recorded requests and injected behavior.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.CompleteFunc = nil
}
