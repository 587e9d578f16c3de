package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/askdb/askdb/internal/memory"
)

// sessionLockClass is the first key of the two-key advisory lock space,
// kept apart from the single bigint key migrations lock on.
const sessionLockClass int32 = 0x61736b

// Locker serializes a session across every process sharing the history
// database. A process-local memory.Locker queues callers first so each busy
// session holds at most one connection, then a transaction-scoped advisory
// lock excludes other replicas. The advisory lock also ends when ctx is
// cancelled.
type Locker struct {
	db    *sql.DB
	local *memory.Locker
}

var _ memory.SessionLocker = (*Locker)(nil)

func NewLocker(db *sql.DB) *Locker {
	return &Locker{db: db, local: memory.NewLocker()}
}

func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, memory.ErrSessionRequired
	}
	unlockLocal, err := l.local.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("begin session lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, sessionLockClass, sessionID); err != nil {
		_ = tx.Rollback()
		unlockLocal()
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = tx.Rollback()
			unlockLocal()
		})
	}, nil
}
