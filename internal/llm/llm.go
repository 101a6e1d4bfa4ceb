// Package llm defines the chat provider interface used by the worker and
// evaluator steps, and adapters for concrete model backends.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation entry. Assistant messages may carry
// pending tool calls; tool messages carry the result for one call,
// correlated by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request from the model to invoke a tool.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolDef is the model-facing definition of an invocable tool.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ChatRequest is a single model invocation.
type ChatRequest struct {
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

// ChatResponse is the model's reply to a ChatRequest.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	StopReason   string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the reasoning backend consumed by the worker and evaluator.
// Chat blocks until the model replies or ctx is done.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// HasToolCalls reports whether the message carries pending tool requests.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
