package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendTurn appends a turn to the session's lineage chain: inserts a
// new current turn row and points the previous tail's next_id at it.
// Returns the new turn's id.
func AppendTurn(ctx context.Context, s Store, sessionID, role, content string) (string, error) {
	now := time.Now().UTC()
	id := uuid.New().String()

	tail, err := s.Query(ctx, QueryLastTurn, map[string]any{
		"session_id": sessionID,
		"max_date":   MaxDate,
	})
	if err != nil {
		return "", fmt.Errorf("failed to find chain tail: %w", err)
	}

	if _, err := s.Query(ctx, QueryInsertTurn, map[string]any{
		"id":         id,
		"session_id": sessionID,
		"role":       role,
		"content":    content,
		"next_id":    "",
		"created_at": now,
		"vt_start":   now,
		"vt_end":     MaxDate,
		"tt_start":   now,
		"tt_end":     MaxDate,
	}); err != nil {
		return "", fmt.Errorf("failed to insert turn: %w", err)
	}

	if len(tail) > 0 {
		prevID, _ := tail[0]["id"].(string)
		if prevID != "" {
			if _, err := s.Query(ctx, QueryLinkTurn, map[string]any{
				"id":       prevID,
				"next_id":  id,
				"max_date": MaxDate,
			}); err != nil {
				return "", fmt.Errorf("failed to link turn: %w", err)
			}
		}
	}

	if _, err := s.Query(ctx, QueryTouchSession, map[string]any{
		"id":         sessionID,
		"updated_at": now,
		"max_date":   MaxDate,
	}); err != nil {
		return "", fmt.Errorf("failed to touch session: %w", err)
	}

	return id, nil
}

// RecordThought attaches an intermediate reasoning step to a turn.
func RecordThought(ctx context.Context, s Store, sessionID, turnID, content string) error {
	now := time.Now().UTC()
	_, err := s.Query(ctx, QueryInsertThought, map[string]any{
		"id":         uuid.New().String(),
		"session_id": sessionID,
		"turn_id":    turnID,
		"content":    content,
		"created_at": now,
		"vt_start":   now,
		"vt_end":     MaxDate,
		"tt_start":   now,
		"tt_end":     MaxDate,
	})
	if err != nil {
		return fmt.Errorf("failed to record thought: %w", err)
	}
	return nil
}
