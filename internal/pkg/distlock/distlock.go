// Package distlock provides the singleton lock used by background jobs that
// must run on one replica at a time.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when extending or releasing a lock this holder
// no longer owns.
var ErrNotHeld = errors.New("distlock: lock not held")

// DistLock is the interface for distributed locking.
// A lock instance represents one holder; do not share it across goroutines.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks whose hold expires and can be renewed
// while work is still running.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// NewLock picks the best available backend: Redis when a client is given,
// otherwise a PostgreSQL advisory lock, otherwise a process-local lock
// suitable for a single replica.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	switch {
	case redisClient != nil:
		return NewRedisLock(redisClient, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return &LocalLock{}
	}
}

// PGAdvisoryLock implements DistLock using session-scoped PostgreSQL
// advisory locks. The session is pinned to one connection between Acquire
// and Release, and dropping the connection releases the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire calls pg_try_advisory_lock, which returns immediately.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, fmt.Errorf("distlock: advisory lock %d already acquired by this holder", l.lockID)
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("distlock: pin connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("distlock: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released); err != nil {
		return fmt.Errorf("distlock: advisory unlock: %w", err)
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}

// LocalLock is a non-blocking in-process lock for single-replica deployments.
type LocalLock struct {
	held chan struct{}
}

// Acquire reports false when another holder has the lock.
func (l *LocalLock) Acquire(context.Context) (bool, error) {
	if l.held == nil {
		l.held = make(chan struct{}, 1)
	}
	select {
	case l.held <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// Release frees the lock.
func (l *LocalLock) Release(context.Context) error {
	if l.held == nil {
		return ErrNotHeld
	}
	select {
	case <-l.held:
		return nil
	default:
		return ErrNotHeld
	}
}
