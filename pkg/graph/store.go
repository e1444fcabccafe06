package graph

import (
	"context"
	"time"
)

// Row is one result row from a store query.
type Row map[string]any

// Store is the narrow contract the reasoning loop consumes. The
// engine and assembler never depend on a concrete driver; any backend
// that can answer parameterized queries satisfies it.
type Store interface {
	// Connect establishes the connection. Safe to call once.
	Connect(ctx context.Context) error

	// Query runs a parameterized statement. Read statements return
	// their rows; write statements return nil rows.
	Query(ctx context.Context, query string, params map[string]any) ([]Row, error)

	// IsConnected reports whether the store is usable.
	IsConnected() bool

	// Close releases the connection. Safe to call multiple times.
	Close(ctx context.Context) error
}

// MaxDate is the far-future sentinel marking a fact as current.
var MaxDate = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// SessionRecord is a bitemporal session row.
type SessionRecord struct {
	ID        string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	VTStart   time.Time
	VTEnd     time.Time
	TTStart   time.Time
	TTEnd     time.Time
}

// TurnRecord is one user/assistant exchange half within a session.
// NextID links to the chronologically following turn, forming the
// lineage chain the assembler walks.
type TurnRecord struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	NextID    string
	CreatedAt time.Time
	VTStart   time.Time
	VTEnd     time.Time
	TTStart   time.Time
	TTEnd     time.Time
}

// ThoughtRecord is an intermediate reasoning step attached to a turn.
type ThoughtRecord struct {
	ID        string
	SessionID string
	TurnID    string
	Content   string
	CreatedAt time.Time
	VTStart   time.Time
	VTEnd     time.Time
	TTStart   time.Time
	TTEnd     time.Time
}

// EnsureSession creates a current session record for sessionID if none
// exists. The check-then-create pair is idempotent: re-running it for
// an existing session is a no-op.
func EnsureSession(ctx context.Context, s Store, sessionID string) error {
	rows, err := s.Query(ctx, QuerySessionByID, map[string]any{
		"id":       sessionID,
		"max_date": MaxDate,
	})
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}

	now := time.Now().UTC()
	_, err = s.Query(ctx, QueryInsertSession, map[string]any{
		"id":         sessionID,
		"status":     "active",
		"created_at": now,
		"updated_at": now,
		"vt_start":   now,
		"vt_end":     MaxDate,
		"tt_start":   now,
		"tt_end":     MaxDate,
	})
	return err
}
