package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/memory"
)

// Store persists turns in the conversation_turn table so history survives
// restarts and is shared between API replicas. Pair it with Locker so a
// session is serialized across those replicas too.
type Store struct {
	db       *sql.DB
	maxTurns int
}

var _ memory.Store = (*Store)(nil)

func NewStore(db *sql.DB, maxTurns int) *Store {
	return &Store{db: db, maxTurns: maxTurns}
}

func (s *Store) Turns(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, memory.ErrSessionRequired
	}

	var (
		rows *sql.Rows
		err  error
	)
	if s.maxTurns > 0 {
		rows, err = s.db.QueryContext(ctx, `
SELECT question, answer FROM (
	SELECT turn_id, question, answer
	FROM conversation_turn
	WHERE session_id = $1
	ORDER BY turn_id DESC
	LIMIT $2
) recent
ORDER BY turn_id ASC`, sessionID, s.maxTurns)
	} else {
		rows, err = s.db.QueryContext(ctx, `
SELECT question, answer
FROM conversation_turn
WHERE session_id = $1
ORDER BY turn_id ASC`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]memory.Turn, 0)
	for rows.Next() {
		var turn memory.Turn
		if err := rows.Scan(&turn.Question, &turn.Answer); err != nil {
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation turns: %w", err)
	}
	return turns, nil
}

func (s *Store) Append(ctx context.Context, sessionID string, turn memory.Turn) error {
	if strings.TrimSpace(sessionID) == "" {
		return memory.ErrSessionRequired
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversation_turn (session_id, question, answer)
VALUES ($1, $2, $3)`, sessionID, turn.Question, turn.Answer)
	if err != nil {
		return fmt.Errorf("insert conversation turn: %w", err)
	}
	return nil
}

func (s *Store) Reset(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return memory.ErrSessionRequired
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turn WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete conversation turns: %w", err)
	}
	return nil
}
