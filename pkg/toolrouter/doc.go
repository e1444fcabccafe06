// Package toolrouter resolves tool names to local handlers or external
// adapters and executes them with schema-validated arguments.
//
// Invariants:
// - Execute never returns a Go error: failures (unknown tool, invalid
//   arguments, handler errors) come back as Output{IsError: true} so
//   the reasoning loop can review them instead of aborting.
// - Local registrations win over adapter tools of the same name.
package toolrouter
