// Package engine runs the per-session reasoning loop: analyzing an
// incoming message, deliberating with a language model, executing the
// tools it asks for, and delivering a reply.
//
// Each DecisionEngine owns exactly one session. All transitions for a
// session execute sequentially on the engine's own goroutine; the only
// shared state is the collaborators injected through Config, which are
// read-only from the engine's point of view.
//
// Invariants:
// - A run always ends in the idle state and always produces a reply:
//   worst case an apology or a terminal "unable to recover" message.
// - Context-fetch failures degrade the run, they never block it.
// - Tool failures are reviewed as structured outputs, never aborts.
package engine
