package search

import (
	"context"
	"time"
)

// Strategy selects how the index combines rankings.
type Strategy string

const (
	StrategyHybrid  Strategy = "hybrid"
	StrategyVector  Strategy = "vector"
	StrategyKeyword Strategy = "keyword"
)

// Options configures one search call.
type Options struct {
	Text     string   `json:"text"`
	Limit    int      `json:"limit"`
	Strategy Strategy `json:"strategy"`
}

// Result is one scored hit. Payload carries at least "content" and,
// for conversation memories, "session_id".
type Result struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Response is the outcome of a search call.
type Response struct {
	Results []Result      `json:"results"`
	Latency time.Duration `json:"latency"`
}

// Client is the narrow contract the assembler consumes.
type Client interface {
	Search(ctx context.Context, opts Options) (*Response, error)
}
