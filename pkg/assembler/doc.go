// Package assembler builds the token-budgeted context string for one
// reasoning turn from the system prompt, recent session history and
// semantically relevant memories from other sessions.
//
// Invariants:
// - The system-prompt section is always present in the output.
// - Sections are considered in ascending priority rank; rank 0 is
//   never dropped, rank 2 is the first to go.
// - Store and search failures surface as typed errors, they are never
//   silently flattened into an empty section.
package assembler
