// Package search defines the semantic memory search contract and a
// hybrid sqlite-vec + FTS5 implementation.
//
// The assembler consumes only the Client interface; the index is an
// adapter wired at the composition root. Without an Embedder the index
// degrades to keyword-only search.
package search
