package postgres

import (
	"context"
	"fmt"
)

// runLockKey is the advisory lock key shared by every fusion process.
const runLockKey int64 = 0x6c6f7373 // "loss"

// Locker takes a session-level advisory lock so only one fusion pass runs
// against the database at a time.
type Locker struct {
	db *DB
}

// NewLocker returns a Locker on db.
func NewLocker(db *DB) *Locker { return &Locker{db: db} }

// TryLock attempts pg_try_advisory_lock on a dedicated connection. The
// connection is held until release so the session-scoped lock stays valid.
func (l *Locker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	conn, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, runLockKey); err != nil {
			// Closing the session drops the lock anyway.
			_ = conn.Conn().Close(ctx)
			return fmt.Errorf("advisory unlock: %w", err)
		}
		return nil
	}
	return release, true, nil
}
