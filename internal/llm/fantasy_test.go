package llm

import (
	"context"
	"errors"
	"testing"
)

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("model overloaded, try again"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := isRateLimitError(tc.err); got != tc.want {
			t.Errorf("isRateLimitError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsServerError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("service unavailable"), true},
		{errors.New("gateway timeout"), true},
		{errors.New("invalid api key"), false},
	}
	for _, tc := range cases {
		if got := isServerError(tc.err); got != tc.want {
			t.Errorf("isServerError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsBillingError(t *testing.T) {
	if !isBillingError(errors.New("402 Payment Required")) {
		t.Error("expected 402 to be a billing error")
	}
	if !isBillingError(errors.New("insufficient credits")) {
		t.Error("expected insufficient credits to be a billing error")
	}
	if isBillingError(errors.New("429 too many requests")) {
		t.Error("rate limit should not be a billing error")
	}
}

func TestCreateFantasyProvider_RequiresBaseURL(t *testing.T) {
	_, err := createFantasyProvider("openai-compat", "key", "")
	if err == nil {
		t.Fatal("expected error for openai-compat without base_url")
	}
}

func TestCreateFantasyProvider_Unsupported(t *testing.T) {
	_, err := createFantasyProvider("carrier-pigeon", "key", "")
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewProvider_RequiresModel(t *testing.T) {
	_, err := NewProvider(Options{Provider: "openrouter", APIKey: "key"})
	if err == nil {
		t.Fatal("expected error when model is empty")
	}
}

func TestMockProvider_SetResponse(t *testing.T) {
	provider := NewMockProvider()
	provider.SetResponse("hello")

	resp, err := provider.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello")
	}
	if provider.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1", provider.CallCount())
	}
	req := provider.LastRequest()
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("LastRequest did not record the request: %+v", req)
	}
}

func TestMockProvider_ChatFunc(t *testing.T) {
	provider := NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{ToolCalls: []ToolCall{{ID: "1", Name: "search"}}}, nil
	}

	resp, err := provider.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search" {
		t.Errorf("unexpected tool calls: %+v", resp.ToolCalls)
	}
}
