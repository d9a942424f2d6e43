package llm

import (
	"context"
	"sync"
)

// Mock is a scripted generation client for tests and local development.
// When no script is set it echoes a canned reply.
type Mock struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int

	// GenerateFunc overrides scripted behavior entirely when set.
	GenerateFunc func(ctx context.Context, history []Message) (string, error)
}

// NewMock creates a mock generation client.
func NewMock() *Mock { return &Mock{} }

// Script queues replies and errors; call i consumes replies[i] and errs[i]
// (a nil error means success).
func (m *Mock) Script(replies []string, errs []error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = replies
	m.errs = errs
	m.calls = 0
}

// Calls returns how many times Generate ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name returns the provider name.
func (m *Mock) Name() string { return "mock" }

// Generate returns the next scripted reply or error.
func (m *Mock) Generate(ctx context.Context, history []Message) (string, error) {
	if m.GenerateFunc != nil {
		m.mu.Lock()
		m.calls++
		m.mu.Unlock()
		return m.GenerateFunc(ctx, history)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++

	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return "Entendido. ¿Hay algo más en lo que pueda ayudarte?", nil
}
