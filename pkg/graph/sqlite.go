package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore implements Store on a local SQLite database with the
// bitemporal sessions/turns/thoughts schema.
type SQLiteStore struct {
	path   string
	logger zerolog.Logger

	mu sync.RWMutex
	db *sql.DB
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path   string
	Logger zerolog.Logger
}

// NewSQLiteStore creates an unconnected store. Call Connect before use.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	return &SQLiteStore{path: cfg.Path, logger: cfg.Logger}, nil
}

// Connect opens the database, enables WAL mode and creates the schema.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.db = db
	s.logger.Info().Str("path", s.path).Msg("Graph store connected")
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		vt_start TIMESTAMP NOT NULL,
		vt_end TIMESTAMP NOT NULL,
		tt_start TIMESTAMP NOT NULL,
		tt_end TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_current ON sessions(id, vt_end);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		next_id TEXT,
		created_at TIMESTAMP NOT NULL,
		vt_start TIMESTAMP NOT NULL,
		vt_end TIMESTAMP NOT NULL,
		tt_start TIMESTAMP NOT NULL,
		tt_end TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, vt_end, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_next ON turns(session_id, next_id);

	CREATE TABLE IF NOT EXISTS thoughts (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		vt_start TIMESTAMP NOT NULL,
		vt_end TIMESTAMP NOT NULL,
		tt_start TIMESTAMP NOT NULL,
		tt_end TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_thoughts_turn ON thoughts(turn_id);
`

var paramPattern = regexp.MustCompile(`:([a-z_]+)`)

// Query runs a parameterized statement. Parameters use :name
// placeholders; entries in params that the statement does not
// reference are ignored.
func (s *SQLiteStore) Query(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db == nil {
		return nil, errors.New("store is not connected")
	}

	args := namedArgs(query, params)

	if isReadStatement(query) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanRows(rows)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return nil, nil
}

// IsConnected reports whether the database handle is open and healthy.
func (s *SQLiteStore) IsConnected() bool {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db == nil {
		return false
	}
	return db.Ping() == nil
}

// Close closes the database. Safe to call multiple times.
func (s *SQLiteStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.logger.Info().Msg("Graph store closed")
	return nil
}

func isReadStatement(query string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH")
}

func namedArgs(query string, params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}

	referenced := make(map[string]bool)
	for _, m := range paramPattern.FindAllStringSubmatch(query, -1) {
		referenced[m[1]] = true
	}

	var args []any
	for name, value := range params {
		if referenced[name] {
			args = append(args, sql.Named(name, value))
		}
	}
	return args
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
