package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reverie-labs/reverie/internal/observability"
	"github.com/reverie-labs/reverie/pkg/graph"
	"github.com/rs/zerolog"
)

const (
	defaultTTL           = time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// Engine is the per-session reasoning loop the manager creates and
// stops. *engine.DecisionEngine satisfies it.
type Engine interface {
	Start()
	Stop()
	HandleInput(sessionID, input string) error
}

// EngineFactory builds a stopped engine for a session id.
type EngineFactory func(sessionID string) (Engine, error)

type entry struct {
	engine     Engine
	lastAccess time.Time
}

// Config wires a Manager.
type Config struct {
	Store   graph.Store
	Factory EngineFactory
	Logger  zerolog.Logger

	TTL           time.Duration
	SweepInterval time.Duration
}

// Manager creates, reuses and evicts per-session engines.
type Manager struct {
	store   graph.Store
	factory EngineFactory
	logger  zerolog.Logger
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once

	// now is swappable so eviction tests can move the clock.
	now func() time.Time
}

// NewManager creates a manager and starts its eviction sweep.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	observability.EnsureRegistered()

	m := &Manager{
		store:       cfg.Store,
		factory:     cfg.Factory,
		logger:      cfg.Logger,
		ttl:         cfg.TTL,
		entries:     make(map[string]*entry),
		sweepTicker: time.NewTicker(cfg.SweepInterval),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	m.wg.Add(1)
	go m.sweepLoop()

	return m, nil
}

// HandleInput ensures the session record exists, gets or creates the
// session's engine, and forwards the input. Completion is async.
func (m *Manager) HandleInput(ctx context.Context, sessionID, input string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	if m.store != nil {
		if err := graph.EnsureSession(ctx, m.store, sessionID); err != nil {
			return fmt.Errorf("failed to ensure session record: %w", err)
		}
	}

	eng, err := m.acquire(sessionID)
	if err != nil {
		return err
	}

	return eng.HandleInput(sessionID, input)
}

// acquire returns the session's engine, creating and starting one if
// absent. The lock covers the whole get-or-create so concurrent
// callers for one id cannot build duplicate engines.
func (m *Manager) acquire(sessionID string) (Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.stopCh:
		return nil, fmt.Errorf("session manager is shut down")
	default:
	}

	if e, ok := m.entries[sessionID]; ok {
		e.lastAccess = m.now()
		return e.engine, nil
	}

	eng, err := m.factory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine for session %s: %w", sessionID, err)
	}
	eng.Start()

	m.entries[sessionID] = &entry{engine: eng, lastAccess: m.now()}
	observability.RecordSessionCreated()
	observability.SetActiveSessions(len(m.entries))
	m.logger.Info().Str("session_id", sessionID).Msg("Session engine created")

	return eng, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.sweepTicker.C:
			m.sweep()
		}
	}
}

// sweep evicts entries idle past the TTL. Expired engines are stopped
// outside the lock so a slow Stop cannot stall HandleInput.
func (m *Manager) sweep() {
	now := m.now()

	m.mu.Lock()
	var expired []Engine
	for id, e := range m.entries {
		if now.Sub(e.lastAccess) > m.ttl {
			expired = append(expired, e.engine)
			delete(m.entries, id)
			observability.RecordSessionEvicted()
			m.logger.Info().Str("session_id", id).Msg("Session evicted")
		}
	}
	observability.SetActiveSessions(len(m.entries))
	m.mu.Unlock()

	for _, eng := range expired {
		eng.Stop()
	}
}

// Shutdown stops the sweep and every live engine. Idempotent.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.sweepTicker.Stop()
	})
	m.wg.Wait()

	m.mu.Lock()
	engines := make([]Engine, 0, len(m.entries))
	for id, e := range m.entries {
		engines = append(engines, e.engine)
		delete(m.entries, id)
	}
	observability.SetActiveSessions(0)
	m.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
	m.logger.Info().Msg("Session manager shut down")
}
