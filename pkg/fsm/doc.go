// Package fsm provides a small declarative finite state machine.
//
// Transitions are declared as a table of rules. Firing an event looks
// up the rules for the current (state, event) pair in declaration
// order and takes the first one whose guard passes. A rule with no
// guard always passes, so unconditional rules act as fallbacks when
// listed after guarded ones.
//
// Invariants:
// - Fire mutates nothing on failure: when no rule matches, the machine
//   stays in its current state and ErrNoTransition is returned.
// - Guards are pure predicates over the caller's context value; the
//   machine itself holds no domain state beyond the current State.
package fsm
