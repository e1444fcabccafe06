package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type turn struct {
	needsTool bool
}

func setupTestMachine(t *testing.T) *Machine[*turn] {
	t.Helper()

	needsTool := func(c *turn) bool { return c.needsTool }

	m, err := New("idle", []Rule[*turn]{
		{From: "idle", On: "input", To: "analyzing"},
		{From: "analyzing", On: "done", To: "deliberating"},
		{From: "deliberating", On: "done", Guard: needsTool, To: "acting"},
		{From: "deliberating", On: "done", To: "responding"},
		{From: "acting", On: "done", To: "reviewing"},
		{From: "reviewing", On: "done", To: "deliberating"},
		{From: "responding", On: "done", To: "idle"},
	})
	require.NoError(t, err)
	return m
}

func TestMachine_UnconditionalTransition(t *testing.T) {
	m := setupTestMachine(t)

	next, err := m.Fire("input", &turn{})
	require.NoError(t, err)
	assert.Equal(t, State("analyzing"), next)
	assert.Equal(t, State("analyzing"), m.State())
}

func TestMachine_GuardSelectsArm(t *testing.T) {
	tests := []struct {
		name      string
		needsTool bool
		want      State
	}{
		{name: "guard passes", needsTool: true, want: "acting"},
		{name: "guard fails falls through", needsTool: false, want: "responding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setupTestMachine(t)
			m.Reset("deliberating")

			next, err := m.Fire("done", &turn{needsTool: tt.needsTool})
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestMachine_NoTransition(t *testing.T) {
	m := setupTestMachine(t)

	next, err := m.Fire("done", &turn{})
	assert.ErrorIs(t, err, ErrNoTransition)
	assert.Equal(t, State("idle"), next, "failed fire must not move the machine")
}

func TestMachine_FullCycle(t *testing.T) {
	m := setupTestMachine(t)
	c := &turn{needsTool: true}

	steps := []struct {
		event Event
		want  State
	}{
		{"input", "analyzing"},
		{"done", "deliberating"},
		{"done", "acting"},
		{"done", "reviewing"},
		{"done", "deliberating"},
	}
	for _, s := range steps {
		next, err := m.Fire(s.event, c)
		require.NoError(t, err)
		require.Equal(t, s.want, next)
	}

	c.needsTool = false
	next, err := m.Fire("done", c)
	require.NoError(t, err)
	assert.Equal(t, State("responding"), next)

	next, err = m.Fire("done", c)
	require.NoError(t, err)
	assert.Equal(t, State("idle"), next)
}

func TestMachine_Can(t *testing.T) {
	m := setupTestMachine(t)

	assert.True(t, m.Can("input", &turn{}))
	assert.False(t, m.Can("done", &turn{}))

	m.Reset("deliberating")
	assert.True(t, m.Can("done", &turn{needsTool: true}))
	assert.True(t, m.Can("done", &turn{needsTool: false}))
}

func TestNew_RejectsBadTables(t *testing.T) {
	_, err := New("idle", []Rule[*turn]{{From: "idle", On: "", To: "x"}})
	assert.Error(t, err)

	_, err = New("idle", []Rule[*turn]{
		{From: "idle", On: "input", To: "a"},
		{From: "idle", On: "input", To: "b"},
	})
	assert.Error(t, err, "second unconditional arm is unreachable")

	_, err = New("idle", []Rule[*turn]{
		{From: "idle", On: "input", Guard: func(c *turn) bool { return c.needsTool }, To: "a"},
		{From: "idle", On: "input", To: "b"},
	})
	assert.NoError(t, err, "guarded arm followed by fallback is fine")
}

func TestMachine_Reset(t *testing.T) {
	m := setupTestMachine(t)
	m.Reset("recovering")
	assert.Equal(t, State("recovering"), m.State())
}
