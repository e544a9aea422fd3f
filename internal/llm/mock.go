package llm

import (
	"context"
	"sync"
)

// MockClient is a configurable completer for testing.
// Set Response or Error to control what complete returns.
type MockClient struct {
	mu       sync.Mutex
	Response string
	Error    error

	// Call tracking for assertions
	Prompts []string
}

func NewMockClient() *MockClient {
	return &MockClient{Response: "[]"}
}

func (m *MockClient) complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Error != nil {
		return "", m.Error
	}
	return m.Response, nil
}
