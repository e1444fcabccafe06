// Package graph defines the capability contract for the bitemporal
// conversation store and provides a SQLite-backed implementation.
//
// Invariants:
// - Current rows carry vt_end = MaxDate (the far-future sentinel).
// - EnsureSession is idempotent: at most one current session row per id.
// - Turn lineage is a single chain per session via next_id links.
package graph
