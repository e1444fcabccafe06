package graph

// Named query constants. Callers pass these to Store.Query so the
// statements live in one place and tests can assert which query a
// component issued.
const (
	// QuerySessionByID returns the current session row for :id.
	QuerySessionByID = `
		SELECT id, status, created_at, updated_at
		FROM sessions
		WHERE id = :id AND vt_end = :max_date`

	// QueryInsertSession inserts a new current session row.
	QueryInsertSession = `
		INSERT INTO sessions (id, status, created_at, updated_at, vt_start, vt_end, tt_start, tt_end)
		VALUES (:id, :status, :created_at, :updated_at, :vt_start, :vt_end, :tt_start, :tt_end)`

	// QueryTurnChain walks the next_id lineage chain from the
	// session's first turn and returns the most recent :limit links,
	// newest first. Callers wanting chronological order reverse it.
	QueryTurnChain = `
		WITH RECURSIVE chain(id, role, content, created_at, next_id, depth) AS (
			SELECT t.id, t.role, t.content, t.created_at, t.next_id, 0
			FROM turns t
			WHERE t.session_id = :session_id
			  AND t.vt_end = :max_date
			  AND NOT EXISTS (
				SELECT 1 FROM turns p
				WHERE p.session_id = :session_id AND p.next_id = t.id AND p.vt_end = :max_date
			  )
			UNION ALL
			SELECT t.id, t.role, t.content, t.created_at, t.next_id, c.depth + 1
			FROM turns t
			JOIN chain c ON t.id = c.next_id
			WHERE t.session_id = :session_id AND t.vt_end = :max_date
		)
		SELECT id, role, content, created_at
		FROM chain
		ORDER BY depth DESC
		LIMIT :limit`

	// QueryTurnsByTime is the fallback scan when a session has no
	// lineage chain: the most recent :limit turns, newest first.
	QueryTurnsByTime = `
		SELECT id, role, content, created_at
		FROM turns
		WHERE session_id = :session_id AND vt_end = :max_date
		ORDER BY created_at DESC
		LIMIT :limit`

	// QueryInsertTurn inserts a new current turn row.
	QueryInsertTurn = `
		INSERT INTO turns (id, session_id, role, content, next_id, created_at, vt_start, vt_end, tt_start, tt_end)
		VALUES (:id, :session_id, :role, :content, :next_id, :created_at, :vt_start, :vt_end, :tt_start, :tt_end)`

	// QueryLinkTurn points an existing turn's next_id at its successor.
	QueryLinkTurn = `
		UPDATE turns SET next_id = :next_id
		WHERE id = :id AND vt_end = :max_date`

	// QueryLastTurn returns the session's chronologically last current
	// turn, used when appending to the lineage chain.
	QueryLastTurn = `
		SELECT id, role, content, created_at
		FROM turns
		WHERE session_id = :session_id AND vt_end = :max_date AND (next_id IS NULL OR next_id = '')
		ORDER BY created_at DESC
		LIMIT 1`

	// QueryInsertThought inserts a reasoning step attached to a turn.
	QueryInsertThought = `
		INSERT INTO thoughts (id, session_id, turn_id, content, created_at, vt_start, vt_end, tt_start, tt_end)
		VALUES (:id, :session_id, :turn_id, :content, :created_at, :vt_start, :vt_end, :tt_start, :tt_end)`

	// QueryTouchSession bumps a session's updated_at.
	QueryTouchSession = `
		UPDATE sessions SET updated_at = :updated_at
		WHERE id = :id AND vt_end = :max_date`

	// QueryCloseStaleSessions closes the valid-time interval of
	// current sessions idle since before :cutoff. Bitemporal close,
	// not delete: history stays queryable as of earlier times.
	QueryCloseStaleSessions = `
		UPDATE sessions SET vt_end = :now, status = 'expired'
		WHERE vt_end = :max_date AND updated_at < :cutoff`
)
