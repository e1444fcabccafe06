package assembler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/reverie-labs/reverie/pkg/graph"
	"github.com/reverie-labs/reverie/pkg/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	chainRows    []graph.Row
	fallbackRows []graph.Row
	err          error
	queries      []string
}

func (s *fakeStore) Connect(ctx context.Context) error { return nil }
func (s *fakeStore) IsConnected() bool                 { return true }
func (s *fakeStore) Close(ctx context.Context) error   { return nil }

func (s *fakeStore) Query(ctx context.Context, query string, params map[string]any) ([]graph.Row, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	switch query {
	case graph.QueryTurnChain:
		return s.chainRows, nil
	case graph.QueryTurnsByTime:
		return s.fallbackRows, nil
	}
	return nil, nil
}

type fakeSearch struct {
	resp *search.Response
	err  error
	opts []search.Options
}

func (c *fakeSearch) Search(ctx context.Context, opts search.Options) (*search.Response, error) {
	c.opts = append(c.opts, opts)
	return c.resp, c.err
}

func setupTestAssembler(t *testing.T, cfg Config) *Assembler {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = &fakeStore{}
	}
	if cfg.Prompt == nil {
		cfg.Prompt = StaticPrompt("You are a helpful assistant.")
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func TestAssembleContext_NoHistoryNoSearch(t *testing.T) {
	a := setupTestAssembler(t, Config{})

	out, err := a.AssembleContext(context.Background(), "s1", "hello")
	require.NoError(t, err)

	assert.Equal(t, "You are a helpful assistant.\n\nUser: hello", out)
	assert.NotContains(t, out, labelMemories)
}

func TestAssembleContext_ChainHistoryReversed(t *testing.T) {
	store := &fakeStore{chainRows: []graph.Row{
		{"role": "assistant", "content": "hi, how can I help?"},
		{"role": "user", "content": "hello"},
	}}
	a := setupTestAssembler(t, Config{Store: store})

	out, err := a.AssembleContext(context.Background(), "s1", "what next?")
	require.NoError(t, err)

	assert.Contains(t, out, "["+labelHistory+"]\nuser: hello\nassistant: hi, how can I help?")
	assert.Equal(t, []string{graph.QueryTurnChain}, store.queries, "fallback must not run when the chain has rows")
}

func TestAssembleContext_FallbackWhenChainEmpty(t *testing.T) {
	store := &fakeStore{fallbackRows: []graph.Row{
		{"role": "user", "content": "second"},
		{"role": "user", "content": "first"},
	}}
	a := setupTestAssembler(t, Config{Store: store})

	out, err := a.AssembleContext(context.Background(), "s1", "q")
	require.NoError(t, err)

	assert.Equal(t, []string{graph.QueryTurnChain, graph.QueryTurnsByTime}, store.queries,
		"exactly one fallback query after an empty chain")
	assert.Contains(t, out, "user: first\nuser: second")
}

func TestAssembleContext_HistoryErrorIsTyped(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	a := setupTestAssembler(t, Config{Store: store})

	_, err := a.AssembleContext(context.Background(), "s1", "q")
	var hfe *HistoryFetchError
	require.ErrorAs(t, err, &hfe)
	assert.Equal(t, "s1", hfe.SessionID)
	assert.Equal(t, graph.QueryTurnChain, hfe.Query)
	assert.ErrorContains(t, hfe, "connection reset")
}

func TestAssembleContext_MemoriesExcludeOwnSession(t *testing.T) {
	cli := &fakeSearch{resp: &search.Response{Results: []search.Result{
		{Score: 0.9, Payload: map[string]any{"session_id": "s1", "content": "own memory"}},
		{Score: 0.8, Payload: map[string]any{"session_id": "s2", "content": "memory two"}},
		{Score: 0.7, Payload: map[string]any{"session_id": "s3", "content": "memory three"}},
		{Score: 0.6, Payload: map[string]any{"session_id": "s4", "content": "memory four"}},
		{Score: 0.5, Payload: map[string]any{"session_id": "s5", "content": "memory five"}},
	}}}
	a := setupTestAssembler(t, Config{Search: cli})

	out, err := a.AssembleContext(context.Background(), "s1", "q")
	require.NoError(t, err)

	assert.NotContains(t, out, "own memory")
	assert.Contains(t, out, "- memory two")
	assert.Contains(t, out, "- memory three")
	assert.Contains(t, out, "- memory four")
	assert.NotContains(t, out, "memory five", "memory list is capped at 3")
}

func TestAssembleContext_EmptySearchOmitsSection(t *testing.T) {
	cli := &fakeSearch{resp: &search.Response{}}
	a := setupTestAssembler(t, Config{Search: cli})

	out, err := a.AssembleContext(context.Background(), "s1", "q")
	require.NoError(t, err)
	assert.NotContains(t, out, labelMemories)
}

func TestAssembleContext_SearchErrorIsTyped(t *testing.T) {
	cli := &fakeSearch{err: errors.New("index offline")}
	a := setupTestAssembler(t, Config{Search: cli})

	longQuery := strings.Repeat("q", 300)
	_, err := a.AssembleContext(context.Background(), "s1", longQuery)

	var sse *SemanticSearchError
	require.ErrorAs(t, err, &sse)
	assert.Len(t, sse.Query, 100, "query in the error is truncated")
	assert.Equal(t, "query", sse.Phase)
	assert.ErrorContains(t, sse, "index offline")
}

func TestPrune_PriorityOrder(t *testing.T) {
	// Sections [0,1,1,2] with a budget that cannot hold them all: rank
	// 2 goes first, rank 0 never goes.
	a := setupTestAssembler(t, Config{TokenLimit: 30, TruncateFloor: 200})

	kept := a.prune([]Section{
		{Label: "System", Content: strings.Repeat("s", 40), Priority: 0},  // 10 tokens
		{Label: "H", Content: strings.Repeat("h", 40), Priority: 1},       // 10 tokens
		{Label: "User", Content: strings.Repeat("u", 40), Priority: 1},    // 10 tokens
		{Label: "Memories", Content: strings.Repeat("m", 40), Priority: 2}, // 10 tokens
	})

	labels := make([]string, 0, len(kept))
	for _, s := range kept {
		labels = append(labels, s.Label)
	}
	assert.Equal(t, []string{"System", "H", "User"}, labels)
}

func TestPrune_TruncatesRankOneWithBudget(t *testing.T) {
	a := setupTestAssembler(t, Config{TokenLimit: 60, TruncateFloor: 100})

	kept := a.prune([]Section{
		{Label: "System", Content: strings.Repeat("s", 80), Priority: 0}, // 20 tokens
		{Label: "H", Content: strings.Repeat("h", 400), Priority: 1},     // 100 tokens, overflows
	})

	require.Len(t, kept, 2)
	assert.True(t, strings.HasSuffix(kept[1].Content, truncatedMarker))
	assert.LessOrEqual(t, estimateTokens(kept[1].Content), 40)
}

func TestPrune_DropsRankOneBelowFloor(t *testing.T) {
	// Remaining budget is 40 chars, under the 100-char floor: drop.
	a := setupTestAssembler(t, Config{TokenLimit: 30, TruncateFloor: 100})

	kept := a.prune([]Section{
		{Label: "System", Content: strings.Repeat("s", 80), Priority: 0}, // 20 tokens
		{Label: "H", Content: strings.Repeat("h", 400), Priority: 1},
	})

	require.Len(t, kept, 1)
	assert.Equal(t, "System", kept[0].Label)
}

func TestPrune_SystemPromptNeverDropped(t *testing.T) {
	// The budget is below the truncation floor, so a rank-1 section
	// would be dropped here; rank 0 must survive truncated instead.
	a := setupTestAssembler(t, Config{TokenLimit: 20, TruncateFloor: 100})

	kept := a.prune([]Section{
		{Label: "System", Content: strings.Repeat("s", 200), Priority: 0}, // 50 tokens
		{Label: "User", Content: "q", Priority: 1},
	})

	require.NotEmpty(t, kept)
	assert.Equal(t, "System", kept[0].Label)
	assert.True(t, strings.HasSuffix(kept[0].Content, truncatedMarker))
	assert.Greater(t, len(kept[0].Content), len(truncatedMarker))
}

func TestAssembleContext_TinyBudgetKeepsSystemPrompt(t *testing.T) {
	prompt := strings.Repeat("always answer in haiku. ", 20)
	a := setupTestAssembler(t, Config{Prompt: StaticPrompt(prompt), TokenLimit: 20, TruncateFloor: 100})

	out, err := a.AssembleContext(context.Background(), "s1", "hello")
	require.NoError(t, err)

	assert.NotEmpty(t, out)
	assert.True(t, strings.HasPrefix(out, "always answer in haiku."))
	assert.Contains(t, out, truncatedMarker)
}

func TestTruncateContent_RuneBoundary(t *testing.T) {
	// 3-byte runes: a cut that lands mid-rune must back off.
	content := strings.Repeat("日本語", 50)

	for maxChars := len(truncatedMarker) + 1; maxChars < len(truncatedMarker)+10; maxChars++ {
		got := truncateContent(content, maxChars)
		assert.True(t, utf8.ValidString(got), "maxChars=%d produced invalid UTF-8", maxChars)
		assert.True(t, strings.HasSuffix(got, truncatedMarker))
	}
}

func TestRender_Format(t *testing.T) {
	a := setupTestAssembler(t, Config{})

	out := a.render([]Section{
		{Label: "System", Content: "sys"},
		{Label: labelHistory, Content: "user: hi"},
		{Label: "User", Content: "query"},
	})

	assert.Equal(t, "sys\n\n["+labelHistory+"]\nuser: hi\n\nUser: query", out)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Store: &fakeStore{}})
	assert.Error(t, err)
}
