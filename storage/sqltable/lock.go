package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is returned when the advisory lock cannot be acquired
// within the timeout.
var ErrLockTimeout = errors.New("advisory lock wait timeout")

// Lock is a MySQL advisory lock (GET_LOCK/RELEASE_LOCK) held on a
// dedicated connection. It guards against concurrent engine instances
// writing the same record table; the engine itself makes no such
// guarantee. Not supported on SQLite, where a second writer is blocked
// by the database file lock anyway.
type Lock struct {
	conn *sql.Conn
	key  string
	held bool
}

// NewLock returns an unacquired lock for key.
func NewLock(key string) *Lock {
	return &Lock{key: key}
}

// LockKey derives a lock name from the database and record table names.
func LockKey(database, table string) string {
	return fmt.Sprintf("trek:%s:%s", database, table)
}

// Acquire takes the lock, waiting up to timeout.
func (l *Lock) Acquire(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if l.held {
		return nil
	}
	var err error
	l.conn, err = db.Conn(ctx)
	if err != nil {
		return err
	}
	row := l.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.key, int(timeout.Seconds()))
	var got sql.NullInt64
	if err := row.Scan(&got); err != nil {
		_ = l.conn.Close()
		return err
	}
	if !got.Valid || got.Int64 != 1 {
		_ = l.conn.Close()
		return ErrLockTimeout
	}
	l.held = true
	return nil
}

// Release frees the lock and its connection. Safe to call when the lock
// was never acquired.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held || l.conn == nil {
		return nil
	}
	row := l.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", l.key)
	var rel sql.NullInt64
	_ = row.Scan(&rel) // do not fail on release
	l.held = false
	return l.conn.Close()
}

// Key returns the lock name.
func (l *Lock) Key() string { return l.key }
