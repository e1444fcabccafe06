package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEngine struct {
	mu      sync.Mutex
	id      string
	started int
	stopped int
	inputs  []string
}

func (e *fakeEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started++
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped++
}

func (e *fakeEngine) HandleInput(sessionID, input string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, input)
	return nil
}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

type recordingFactory struct {
	mu      sync.Mutex
	engines map[string]*fakeEngine
	built   int
	err     error
}

func newRecordingFactory() *recordingFactory {
	return &recordingFactory{engines: make(map[string]*fakeEngine)}
}

func (f *recordingFactory) build(sessionID string) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.built++
	e := &fakeEngine{id: sessionID}
	f.engines[sessionID] = e
	return e, nil
}

func (f *recordingFactory) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

func setupTestManager(t *testing.T, factory *recordingFactory) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		Factory:       factory.build,
		TTL:           time.Hour,
		SweepInterval: time.Hour, // sweeps are driven manually in tests
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManager_SequentialInputsReuseEngine(t *testing.T) {
	factory := newRecordingFactory()
	m := setupTestManager(t, factory)

	require.NoError(t, m.HandleInput(context.Background(), "s1", "first"))
	require.NoError(t, m.HandleInput(context.Background(), "s1", "second"))

	assert.Equal(t, 1, factory.buildCount(), "same session must reuse the engine")
	assert.Equal(t, []string{"first", "second"}, factory.engines["s1"].inputs)
	assert.Equal(t, 1, factory.engines["s1"].started)
}

func TestManager_ConcurrentSameSession(t *testing.T) {
	factory := newRecordingFactory()
	m := setupTestManager(t, factory)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.HandleInput(context.Background(), "s1", "hi"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, factory.buildCount(), "first caller wins the creation race")
	assert.Equal(t, 1, m.Len())
}

func TestManager_IndependentSessions(t *testing.T) {
	factory := newRecordingFactory()
	m := setupTestManager(t, factory)

	require.NoError(t, m.HandleInput(context.Background(), "s1", "a"))
	require.NoError(t, m.HandleInput(context.Background(), "s2", "b"))

	assert.Equal(t, 2, factory.buildCount())
	assert.Equal(t, 2, m.Len())
}

func TestManager_TTLEviction(t *testing.T) {
	factory := newRecordingFactory()
	m := setupTestManager(t, factory)

	base := time.Now()
	m.now = func() time.Time { return base }

	require.NoError(t, m.HandleInput(context.Background(), "stale", "x"))
	require.NoError(t, m.HandleInput(context.Background(), "fresh", "y"))

	// "fresh" is touched just before the sweep; "stale" is not.
	m.now = func() time.Time { return base.Add(59 * time.Minute) }
	require.NoError(t, m.HandleInput(context.Background(), "fresh", "again"))

	m.now = func() time.Time { return base.Add(61 * time.Minute) }
	m.sweep()

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, factory.engines["stale"].stopCount())
	assert.Equal(t, 0, factory.engines["fresh"].stopCount())
}

func TestManager_AccessResetsEvictionClock(t *testing.T) {
	factory := newRecordingFactory()
	m := setupTestManager(t, factory)

	base := time.Now()
	m.now = func() time.Time { return base }
	require.NoError(t, m.HandleInput(context.Background(), "s1", "x"))

	m.now = func() time.Time { return base.Add(50 * time.Minute) }
	require.NoError(t, m.HandleInput(context.Background(), "s1", "y"))

	m.now = func() time.Time { return base.Add(90 * time.Minute) }
	m.sweep()

	assert.Equal(t, 1, m.Len(), "access at 50m keeps the entry alive at 90m")
}

func TestManager_ShutdownStopsEverything(t *testing.T) {
	factory := newRecordingFactory()
	m, err := NewManager(Config{Factory: factory.build})
	require.NoError(t, err)

	require.NoError(t, m.HandleInput(context.Background(), "s1", "x"))
	require.NoError(t, m.HandleInput(context.Background(), "s2", "y"))

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, factory.engines["s1"].stopCount())
	assert.Equal(t, 1, factory.engines["s2"].stopCount())

	err = m.HandleInput(context.Background(), "s3", "z")
	assert.Error(t, err)
}

func TestManager_FactoryErrorPropagates(t *testing.T) {
	factory := newRecordingFactory()
	factory.err = errors.New("no provider configured")
	m := setupTestManager(t, factory)

	err := m.HandleInput(context.Background(), "s1", "x")
	assert.ErrorContains(t, err, "no provider configured")
	assert.Equal(t, 0, m.Len())
}

func TestManager_EmptySessionID(t *testing.T) {
	m := setupTestManager(t, newRecordingFactory())
	assert.Error(t, m.HandleInput(context.Background(), "", "x"))
}
