package fsm

import (
	"errors"
	"fmt"
)

// ErrNoTransition is returned by Fire when no rule accepts the event
// from the current state.
var ErrNoTransition = errors.New("fsm: no transition")

// State names a machine state.
type State string

// Event names a machine input.
type Event string

// Rule declares one transition arm. When Guard is nil the arm always
// matches; guarded arms are evaluated in declaration order.
type Rule[C any] struct {
	From  State
	On    Event
	Guard func(c C) bool
	To    State
}

// Machine is a finite state machine driven by a declarative rule
// table. It is not safe for concurrent use; callers own the
// synchronization, typically by confining the machine to a single
// goroutine.
type Machine[C any] struct {
	state State
	rules map[State]map[Event][]Rule[C]
}

// New builds a machine from a rule table. Duplicate unconditional arms
// for the same (state, event) pair are rejected because the second one
// could never fire.
func New[C any](initial State, rules []Rule[C]) (*Machine[C], error) {
	m := &Machine[C]{
		state: initial,
		rules: make(map[State]map[Event][]Rule[C]),
	}

	for _, r := range rules {
		if r.From == "" || r.On == "" || r.To == "" {
			return nil, fmt.Errorf("fsm: incomplete rule %+v", r)
		}
		byEvent, ok := m.rules[r.From]
		if !ok {
			byEvent = make(map[Event][]Rule[C])
			m.rules[r.From] = byEvent
		}
		arms := byEvent[r.On]
		for _, prev := range arms {
			if prev.Guard == nil {
				return nil, fmt.Errorf("fsm: unreachable rule %s --%s--> %s after unconditional arm", r.From, r.On, r.To)
			}
		}
		byEvent[r.On] = append(arms, r)
	}

	return m, nil
}

// State returns the current state.
func (m *Machine[C]) State() State {
	return m.state
}

// Reset forces the machine back to the given state.
func (m *Machine[C]) Reset(s State) {
	m.state = s
}

// Fire applies an event. The first arm whose guard passes wins; on
// success the machine moves to the arm's target state and returns it.
func (m *Machine[C]) Fire(event Event, c C) (State, error) {
	arms := m.rules[m.state][event]
	for _, r := range arms {
		if r.Guard == nil || r.Guard(c) {
			m.state = r.To
			return m.state, nil
		}
	}
	return m.state, fmt.Errorf("%w: %s --%s-->", ErrNoTransition, m.state, event)
}

// Can reports whether the event would fire from the current state.
func (m *Machine[C]) Can(event Event, c C) bool {
	for _, r := range m.rules[m.state][event] {
		if r.Guard == nil || r.Guard(c) {
			return true
		}
	}
	return false
}
