package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reverie-labs/reverie/pkg/graph"
	"github.com/reverie-labs/reverie/pkg/search"
	"github.com/rs/zerolog"
)

// Publisher pushes a reply to connected clients. *gateway.Server
// satisfies it.
type Publisher interface {
	Publish(sessionID, text string)
}

// Indexer stores assistant replies as searchable memories.
// *search.VecIndex satisfies it.
type Indexer interface {
	Add(ctx context.Context, m search.Memory) error
}

// Recorder persists the turns of a conversation and delivers replies.
// It keeps the reasoning core read-only against the store: the engine
// produces text, the recorder owns the write side effects.
type Recorder struct {
	store   graph.Store
	index   Indexer // optional
	publish Publisher
	logger  zerolog.Logger
}

// NewRecorder wires a recorder. index and publish may be nil.
func NewRecorder(store graph.Store, index Indexer, publish Publisher, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, index: index, publish: publish, logger: logger}
}

// RecordUserTurn appends the user's message to the session's lineage
// chain before the engine starts reasoning over it.
func (r *Recorder) RecordUserTurn(ctx context.Context, sessionID, input string) error {
	_, err := graph.AppendTurn(ctx, r.store, sessionID, "user", input)
	return err
}

// Deliver publishes the reply, appends the assistant turn, and indexes
// it as a memory. Persistence failures are logged, not propagated: the
// user already has the reply in hand.
func (r *Recorder) Deliver(ctx context.Context, sessionID, text string) {
	if r.publish != nil {
		r.publish.Publish(sessionID, text)
	}

	if _, err := graph.AppendTurn(ctx, r.store, sessionID, "assistant", text); err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist assistant turn")
		return
	}

	if r.index == nil || text == "" {
		return
	}
	err := r.index.Add(ctx, search.Memory{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to index reply as memory")
	}
}
