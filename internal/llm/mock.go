package llm

import (
	"context"
	"errors"
	"sync"
)

// MockClient is a scriptable Client implementation for tests. Responses are
// consumed in FIFO order; an empty queue yields an error.
type MockClient struct {
	Configured bool

	mu    sync.Mutex
	queue []mockResult
	// Calls records every prompt sent, oldest first.
	Calls [][]ChatMessage
}

type mockResult struct {
	content string
	err     error
}

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// NewMockClient creates a configured mock with no scripted responses.
func NewMockClient() *MockClient {
	return &MockClient{Configured: true}
}

// QueueResponse schedules a successful completion.
func (m *MockClient) QueueResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{content: content})
}

// QueueError schedules a failed completion.
func (m *MockClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{err: err})
}

func (m *MockClient) IsConfigured() bool {
	return m.Configured
}

func (m *MockClient) ChatCompletion(_ context.Context, messages []ChatMessage, _ int, _ float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, messages)
	if len(m.queue) == 0 {
		return "", errors.New("mock llm: no scripted response")
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	return next.content, next.err
}

func (m *MockClient) FallbackWelcome(isFirstSession bool) string {
	if isFirstSession {
		return fallbackWelcomeFirst
	}
	return fallbackWelcomeReturning
}

func (m *MockClient) FallbackTurnResponse() string {
	return fallbackResponses[0]
}

func (m *MockClient) FallbackSummary() string {
	return fallbackSummaryText
}
