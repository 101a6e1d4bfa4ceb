package llm

import (
	"context"
	"sync"
)

// MockProvider is a test double for Provider. Set ChatFunc for scripted
// behavior, or SetResponse for a fixed text reply.
type MockProvider struct {
	mu sync.Mutex

	// ChatFunc, when set, handles every Chat call.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	response *ChatResponse
	err      error
	requests []ChatRequest
}

// NewMockProvider creates a mock that returns an empty response by default.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response: &ChatResponse{Content: "", StopReason: "stop"},
	}
}

// SetResponse sets a fixed text response for all subsequent calls.
func (m *MockProvider) SetResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = &ChatResponse{Content: content, StopReason: "stop"}
}

// SetToolCallResponse sets a fixed response carrying the given tool calls.
func (m *MockProvider) SetToolCallResponse(calls ...ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = &ChatResponse{ToolCalls: calls, StopReason: "tool_use"}
}

// SetError makes all subsequent calls fail with err.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.ChatFunc
	resp := m.response
	err := m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	out := *resp
	return &out, nil
}

// LastRequest returns the most recent request, or a zero request if none.
func (m *MockProvider) LastRequest() ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}

// CallCount returns how many times Chat was invoked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
