package engine

import (
	"github.com/reverie-labs/reverie/pkg/provider"
	"github.com/reverie-labs/reverie/pkg/toolrouter"
)

// ToolResult pairs a tool call with the output it produced.
type ToolResult struct {
	Name   string
	Output toolrouter.Output
}

// AgentContext is the working state of one reasoning run. It is owned
// exclusively by the engine goroutine for the run's session and is
// discarded when the run ends.
type AgentContext struct {
	SessionID     string
	RunID         string
	Input         string
	ContextString string
	Thoughts      []string
	ToolCalls     []provider.ToolCall
	ToolOutputs   []ToolResult
	Response      string
	History       []string
	LastError     string

	passes int
}

func (ac *AgentContext) requiresTool() bool {
	for _, tc := range ac.ToolCalls {
		if tc.Name != "" {
			return true
		}
	}
	return false
}
