package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register the sqlite-vec extension for every connection.
	sqlite_vec.Auto()
}

const (
	defaultLimit    = 10
	vectorWeight    = 0.7
	keywordWeight   = 0.3
	candidatePoolSz = 200
)

// Memory is one entry in the semantic index.
type Memory struct {
	ID        string
	SessionID string
	Content   string
	CreatedAt time.Time
}

// VecIndex implements Client over a local SQLite database combining
// vec0 cosine search with FTS5 keyword ranking.
type VecIndex struct {
	db       *sql.DB
	embedder Embedder
	logger   zerolog.Logger
}

// IndexConfig holds index configuration.
type IndexConfig struct {
	// Path is the database file path.
	Path string
	// Embedder is optional; without it the index is keyword-only.
	Embedder Embedder
	Logger   zerolog.Logger
}

// NewVecIndex opens (creating if needed) the memory index.
func NewVecIndex(cfg IndexConfig) (*VecIndex, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idx := &VecIndex{db: db, embedder: cfg.Embedder, logger: cfg.Logger}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	idx.logger.Info().Str("path", cfg.Path).Bool("vector", cfg.Embedder != nil).Msg("Memory index opened")
	return idx, nil
}

func (x *VecIndex) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			memory_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := x.db.Exec(schema); err != nil {
		return err
	}

	if x.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				memory_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, x.embedder.Dimension())
		if _, err := x.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Add indexes a memory. An empty ID is assigned one.
func (x *VecIndex) Add(ctx context.Context, m Memory) error {
	if m.Content == "" {
		return errors.New("memory content is required")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	if _, err := x.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (id, session_id, content, created_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Content, m.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	if _, err := x.db.ExecContext(ctx,
		`INSERT INTO memories_fts (memory_id, content) VALUES (?, ?)`,
		m.ID, m.Content,
	); err != nil {
		return fmt.Errorf("failed to index memory: %w", err)
	}

	if x.embedder != nil {
		embedding, err := x.embedder.Embed(ctx, m.Content)
		if err != nil {
			return fmt.Errorf("failed to embed memory: %w", err)
		}
		embeddingJSON, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := x.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO embeddings (memory_id, embedding) VALUES (?, ?)`,
			m.ID, string(embeddingJSON),
		); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}

	return nil
}

// Search implements Client. Hybrid strategy runs vector and keyword
// rankings and merges them; either leg failing degrades to the other,
// both failing is an error.
func (x *VecIndex) Search(ctx context.Context, opts Options) (*Response, error) {
	start := time.Now()

	if opts.Text == "" {
		return &Response{Latency: time.Since(start)}, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyHybrid
	}
	if x.embedder == nil && strategy != StrategyKeyword {
		strategy = StrategyKeyword
	}

	var vectorScores, keywordScores map[string]float64
	var vectorErr, keywordErr error

	if strategy == StrategyVector || strategy == StrategyHybrid {
		vectorScores, vectorErr = x.vectorSearch(ctx, opts.Text)
	}
	if strategy == StrategyKeyword || strategy == StrategyHybrid {
		keywordScores, keywordErr = x.keywordSearch(ctx, opts.Text)
	}

	if vectorErr != nil {
		x.logger.Warn().Err(vectorErr).Msg("Vector search failed")
	}
	if keywordErr != nil {
		x.logger.Warn().Err(keywordErr).Msg("Keyword search failed")
	}
	if vectorScores == nil && keywordScores == nil {
		if vectorErr != nil {
			return nil, vectorErr
		}
		if keywordErr != nil {
			return nil, keywordErr
		}
	}

	merged := mergeScores(vectorScores, keywordScores)
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}

	results, err := x.hydrate(ctx, merged)
	if err != nil {
		return nil, err
	}

	return &Response{Results: results, Latency: time.Since(start)}, nil
}

func (x *VecIndex) vectorSearch(ctx context.Context, text string) (map[string]float64, error) {
	embedding, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT memory_id, vec_distance_cosine(embedding, ?) AS distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?`,
		string(embeddingJSON), candidatePoolSz,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		scores[id] = 1.0 - distance
	}
	return scores, rows.Err()
}

func (x *VecIndex) keywordSearch(ctx context.Context, text string) (map[string]float64, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT memory_id, bm25(memories_fts) AS score
		FROM memories_fts
		WHERE memories_fts MATCH ?
		ORDER BY score
		LIMIT ?`,
		text, candidatePoolSz,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		// BM25 scores are negative; flip to positive.
		scores[id] = -score
	}
	return scores, rows.Err()
}

type scored struct {
	id    string
	score float64
}

func mergeScores(vector, keyword map[string]float64) []scored {
	var maxVector, maxKeyword float64
	for _, s := range vector {
		if s > maxVector {
			maxVector = s
		}
	}
	for _, s := range keyword {
		if s > maxKeyword {
			maxKeyword = s
		}
	}

	combined := make(map[string]float64)
	for id, s := range vector {
		norm := s
		if maxVector > 0 {
			norm = s / maxVector
		}
		combined[id] += vectorWeight * norm
	}
	for id, s := range keyword {
		norm := s
		if maxKeyword > 0 {
			norm = s / maxKeyword
		}
		combined[id] += keywordWeight * norm
	}

	out := make([]scored, 0, len(combined))
	for id, s := range combined {
		out = append(out, scored{id: id, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}

func (x *VecIndex) hydrate(ctx context.Context, ranked []scored) ([]Result, error) {
	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		var sessionID, content string
		var createdAt int64
		err := x.db.QueryRowContext(ctx,
			`SELECT session_id, content, created_at FROM memories WHERE id = ?`, r.id,
		).Scan(&sessionID, &content, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}

		results = append(results, Result{
			Score: r.score,
			Payload: map[string]any{
				"memory_id":  r.id,
				"session_id": sessionID,
				"content":    content,
				"created_at": createdAt,
			},
		})
	}
	return results, nil
}

// Close closes the index database.
func (x *VecIndex) Close() error {
	return x.db.Close()
}
