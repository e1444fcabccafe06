package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/reverie-labs/reverie/internal/observability"
	"github.com/reverie-labs/reverie/pkg/graph"
	"github.com/reverie-labs/reverie/pkg/search"
	"github.com/rs/zerolog"
)

const (
	defaultTokenLimit    = 8000
	defaultTruncateFloor = 100
	defaultHistoryLimit  = 20
	defaultMemoryLimit   = 3

	labelHistory  = "Recent History"
	labelMemories = "Relevant Memories"

	truncatedMarker = " [truncated]"
)

// Section is one candidate block of the assembled context. Rank 0 is
// highest priority and never dropped.
type Section struct {
	Label    string
	Content  string
	Priority int
}

// SystemPromptSource supplies the current system prompt. PromptSource
// satisfies it with hot reloading; a plain string works via
// StaticPrompt.
type SystemPromptSource interface {
	SystemPrompt() string
}

// StaticPrompt is a fixed SystemPromptSource.
type StaticPrompt string

func (p StaticPrompt) SystemPrompt() string { return string(p) }

// Config wires an Assembler.
type Config struct {
	Store  graph.Store
	Search search.Client // optional; nil disables the memories section
	Prompt SystemPromptSource
	Logger zerolog.Logger

	TokenLimit    int
	TruncateFloor int
	HistoryLimit  int
	MemoryLimit   int
}

// Assembler builds context strings. It holds no per-session state and
// is safe for concurrent use.
type Assembler struct {
	store         graph.Store
	search        search.Client
	prompt        SystemPromptSource
	logger        zerolog.Logger
	tokenLimit    int
	truncateFloor int
	historyLimit  int
	memoryLimit   int
}

// New creates an assembler.
func New(cfg Config) (*Assembler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if cfg.Prompt == nil {
		return nil, fmt.Errorf("system prompt source is required")
	}
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = defaultTokenLimit
	}
	if cfg.TruncateFloor <= 0 {
		cfg.TruncateFloor = defaultTruncateFloor
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = defaultMemoryLimit
	}

	observability.EnsureRegistered()

	return &Assembler{
		store:         cfg.Store,
		search:        cfg.Search,
		prompt:        cfg.Prompt,
		logger:        cfg.Logger,
		tokenLimit:    cfg.TokenLimit,
		truncateFloor: cfg.TruncateFloor,
		historyLimit:  cfg.HistoryLimit,
		memoryLimit:   cfg.MemoryLimit,
	}, nil
}

// AssembleContext builds the prompt context for one turn. History and
// search failures surface as *HistoryFetchError and
// *SemanticSearchError; the caller decides how to degrade.
func (a *Assembler) AssembleContext(ctx context.Context, sessionID, query string) (string, error) {
	start := time.Now()
	defer func() { observability.RecordAssemble(time.Since(start)) }()

	sections := []Section{{Label: "System", Content: a.prompt.SystemPrompt(), Priority: 0}}

	history, err := a.fetchHistory(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if history != "" {
		sections = append(sections, Section{Label: labelHistory, Content: history, Priority: 1})
	}

	sections = append(sections, Section{Label: "User", Content: query, Priority: 1})

	if a.search != nil {
		memories, err := a.fetchMemories(ctx, sessionID, query)
		if err != nil {
			return "", err
		}
		if memories != "" {
			sections = append(sections, Section{Label: labelMemories, Content: memories, Priority: 2})
		}
	}

	return a.render(a.prune(sections)), nil
}

// fetchHistory returns the session's recent turns as "role: content"
// lines, oldest first. The lineage chain is tried first; an empty
// chain falls back to a timestamp scan.
func (a *Assembler) fetchHistory(ctx context.Context, sessionID string) (string, error) {
	params := map[string]any{
		"session_id": sessionID,
		"limit":      a.historyLimit,
		"max_date":   graph.MaxDate,
	}

	rows, err := a.store.Query(ctx, graph.QueryTurnChain, params)
	if err != nil {
		return "", &HistoryFetchError{SessionID: sessionID, Query: graph.QueryTurnChain, Err: err}
	}

	if len(rows) == 0 {
		rows, err = a.store.Query(ctx, graph.QueryTurnsByTime, params)
		if err != nil {
			return "", &HistoryFetchError{SessionID: sessionID, Query: graph.QueryTurnsByTime, Err: err}
		}
	}
	if len(rows) == 0 {
		return "", nil
	}

	// Both queries return newest first; the prompt wants chronology.
	lines := make([]string, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		role, _ := rows[i]["role"].(string)
		content, _ := rows[i]["content"].(string)
		lines = append(lines, fmt.Sprintf("%s: %s", role, content))
	}
	return strings.Join(lines, "\n"), nil
}

// fetchMemories runs a hybrid search for the query, drops hits from
// the current session, and keeps the top memoryLimit by score.
func (a *Assembler) fetchMemories(ctx context.Context, sessionID, query string) (string, error) {
	resp, err := a.search.Search(ctx, search.Options{
		Text:     query,
		Limit:    a.memoryLimit * 2, // leave headroom for same-session hits
		Strategy: search.StrategyHybrid,
	})
	if err != nil {
		return "", newSemanticSearchError("search_failed", query, "query", err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return "", nil
	}

	hits := make([]search.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if sid, _ := r.Payload["session_id"].(string); sid == sessionID {
			continue
		}
		hits = append(hits, r)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > a.memoryLimit {
		hits = hits[:a.memoryLimit]
	}
	if len(hits) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(hits))
	for _, r := range hits {
		content, _ := r.Payload["content"].(string)
		lines = append(lines, "- "+content)
	}
	return strings.Join(lines, "\n"), nil
}

// estimateTokens approximates token cost as ceil(len/4).
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// prune walks sections in ascending priority and keeps them while the
// running token total fits the limit. An overflowing section of rank
// <= 1 is truncated when enough budget remains, otherwise dropped.
// Rank 0 is exempt from the floor: the system prompt is always kept,
// truncated if it must be.
func (a *Assembler) prune(sections []Section) []Section {
	ordered := make([]Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	kept := make([]Section, 0, len(ordered))
	used := 0
	for _, s := range ordered {
		cost := estimateTokens(s.Content)
		if used+cost <= a.tokenLimit {
			kept = append(kept, s)
			used += cost
			continue
		}

		remainingChars := (a.tokenLimit - used) * 4
		if s.Priority == 0 || (s.Priority <= 1 && remainingChars > a.truncateFloor) {
			s.Content = truncateContent(s.Content, remainingChars)
			kept = append(kept, s)
		} else {
			observability.RecordSectionDropped()
			a.logger.Debug().Str("label", s.Label).Int("priority", s.Priority).Msg("Context section dropped")
		}
		// Sections are priority ordered, so nothing after this one
		// could fit either.
		break
	}
	return kept
}

// truncateContent cuts content to maxChars including the marker,
// backing off to a rune boundary so the prompt never carries a split
// UTF-8 sequence.
func truncateContent(content string, maxChars int) string {
	cut := maxChars - len(truncatedMarker)
	if cut < 0 {
		cut = 0
	}
	if cut > len(content) {
		cut = len(content)
	}
	for cut > 0 && cut < len(content) && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + truncatedMarker
}

// render joins the kept sections with blank lines. The system prompt
// is emitted bare, the query as "User: ...", everything else labeled.
func (a *Assembler) render(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		switch s.Label {
		case "System":
			parts = append(parts, s.Content)
		case "User":
			parts = append(parts, "User: "+s.Content)
		default:
			parts = append(parts, fmt.Sprintf("[%s]\n%s", s.Label, s.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}
