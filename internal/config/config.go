// Package config defines the daemon configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level reverie configuration.
type Config struct {
	// DataDir is the base directory for databases and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Agent     AgentConfig     `json:"agent" mapstructure:"agent"`
	Sessions  SessionsConfig  `json:"sessions" mapstructure:"sessions"`
	Graph     GraphConfig     `json:"graph" mapstructure:"graph"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// AgentConfig tunes the decision engine and context assembler.
type AgentConfig struct {
	SystemPrompt     string        `json:"system_prompt" mapstructure:"system_prompt"`
	SystemPromptFile string        `json:"system_prompt_file" mapstructure:"system_prompt_file"`
	TokenLimit       int           `json:"token_limit" mapstructure:"token_limit"`
	TruncateFloor    int           `json:"truncate_floor" mapstructure:"truncate_floor"`
	HistoryLimit     int           `json:"history_limit" mapstructure:"history_limit"`
	MemoryLimit      int           `json:"memory_limit" mapstructure:"memory_limit"`
	ContextTimeout   time.Duration `json:"context_timeout" mapstructure:"context_timeout"`
	ReasoningTimeout time.Duration `json:"reasoning_timeout" mapstructure:"reasoning_timeout"`
	ToolTimeout      time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	MaxPasses        int           `json:"max_passes" mapstructure:"max_passes"`
}

// SessionsConfig tunes the session manager.
type SessionsConfig struct {
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// GraphConfig configures the bitemporal graph store.
type GraphConfig struct {
	DBPath              string `json:"db_path" mapstructure:"db_path"`
	MaintenanceSchedule string `json:"maintenance_schedule" mapstructure:"maintenance_schedule"`
	RetentionDays       int    `json:"retention_days" mapstructure:"retention_days"`
}

// MemoryConfig configures the semantic memory index.
type MemoryConfig struct {
	DBPath          string `json:"db_path" mapstructure:"db_path"`
	EmbeddingModel  string `json:"embedding_model" mapstructure:"embedding_model"`
	EmbeddingAPIKey string `json:"embedding_api_key" mapstructure:"embedding_api_key"`
}

// ProviderConfig holds credentials for one reasoning provider.
type ProviderConfig struct {
	Name   string `json:"name" mapstructure:"name"` // "anthropic" or "openai"
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// ToolsConfig configures the tool router.
type ToolsConfig struct {
	WorkspacePath string            `json:"workspace_path" mapstructure:"workspace_path"`
	MCPServers    []MCPServerConfig `json:"mcp_servers" mapstructure:"mcp_servers"`
}

// MCPServerConfig describes one external MCP tool server.
type MCPServerConfig struct {
	ID      string   `json:"id" mapstructure:"id"`
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args" mapstructure:"args"`
}

// GatewayConfig configures the websocket ingress.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			SystemPrompt:     "You are a helpful assistant with persistent memory of past conversations.",
			TokenLimit:       8000,
			TruncateFloor:    100,
			HistoryLimit:     20,
			MemoryLimit:      3,
			ContextTimeout:   10 * time.Second,
			ReasoningTimeout: 30 * time.Second,
			ToolTimeout:      30 * time.Second,
			MaxPasses:        10,
		},
		Sessions: SessionsConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Graph: GraphConfig{
			MaintenanceSchedule: "0 3 * * *",
			RetentionDays:       30,
		},
		Memory: MemoryConfig{
			EmbeddingModel: "text-embedding-3-small",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8490",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9490",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.Agent.TokenLimit <= 0 {
		return fmt.Errorf("agent.token_limit must be positive")
	}
	if c.Agent.TruncateFloor < 0 {
		return fmt.Errorf("agent.truncate_floor cannot be negative")
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.sweep_interval must be positive")
	}
	for i, p := range c.Providers {
		if p.Name != "anthropic" && p.Name != "openai" {
			return fmt.Errorf("providers[%d]: unknown provider %q", i, p.Name)
		}
		if p.APIKey == "" {
			return fmt.Errorf("providers[%d]: api_key is required", i)
		}
	}
	return nil
}
