package assembler

import "fmt"

// maxErrQueryLen caps the query text carried inside a
// SemanticSearchError.
const maxErrQueryLen = 100

// HistoryFetchError reports a failed history-store query. Callers need
// to distinguish "no history" from "history unavailable", so this is
// never swallowed into an empty history.
type HistoryFetchError struct {
	SessionID string
	Query     string
	Err       error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("history fetch failed for session %s: %v", e.SessionID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error { return e.Err }

// SemanticSearchError reports a failed memory search. Query is
// truncated to 100 characters.
type SemanticSearchError struct {
	Code  string
	Query string
	Phase string
	Err   error
}

func (e *SemanticSearchError) Error() string {
	return fmt.Sprintf("semantic search failed (%s, phase %s) for query %q: %v", e.Code, e.Phase, e.Query, e.Err)
}

func (e *SemanticSearchError) Unwrap() error { return e.Err }

func newSemanticSearchError(code, query, phase string, err error) *SemanticSearchError {
	if len(query) > maxErrQueryLen {
		query = query[:maxErrQueryLen]
	}
	return &SemanticSearchError{Code: code, Query: query, Phase: phase, Err: err}
}
