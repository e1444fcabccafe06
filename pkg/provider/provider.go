package provider

import (
	"context"
	"fmt"
)

// ToolSpec declares one tool the model may invoke.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// TokenUsage tracks token consumption of one call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is a single reasoning call: system text, one user prompt and
// the tools the model may use.
type Request struct {
	System      string     `json:"system"`
	Prompt      string     `json:"prompt"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	Model       string     `json:"model,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

// Result is the model's answer to one reasoning call.
type Result struct {
	Text         string      `json:"text"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Provider is the reasoning-call contract.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// New constructs a provider by name.
func New(name, apiKey, model string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey, model), nil
	case "openai":
		return NewOpenAIProvider(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// HasToolCalls reports whether the result carries at least one tool
// call with a non-empty name.
func (r *Result) HasToolCalls() bool {
	if r == nil {
		return false
	}
	for _, tc := range r.ToolCalls {
		if tc.Name != "" {
			return true
		}
	}
	return false
}
