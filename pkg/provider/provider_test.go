package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"anthropic", false},
		{"openai", false},
		{"delphi", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.name, "test-key", "")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name())
		})
	}
}

func TestResult_HasToolCalls(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   bool
	}{
		{"nil result", nil, false},
		{"no calls", &Result{Text: "done"}, false},
		{"empty name", &Result{ToolCalls: []ToolCall{{Name: ""}}}, false},
		{"one call", &Result{ToolCalls: []ToolCall{{Name: "read_file"}}}, true},
		{
			"mixed",
			&Result{ToolCalls: []ToolCall{{Name: ""}, {Name: "get_time"}}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.HasToolCalls())
		})
	}
}
