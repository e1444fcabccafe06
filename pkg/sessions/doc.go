// Package sessions owns the map from session id to running engine.
// It is the sole entry point for inbound messages and the only shared
// mutable structure in the reasoning core.
//
// Invariants:
// - At most one entry per session id; concurrent HandleInput calls for
//   the same id race on creation and the first caller wins.
// - Every map read and mutation, including the eviction sweep's
//   timestamp reads, happens under the one manager lock.
// - An entry accessed within the TTL is never evicted.
package sessions
