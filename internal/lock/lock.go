// Package lock serializes work on a key across processes.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock stays held by someone else until the wait expires.
var ErrNotAcquired = errors.New("lock not acquired")

// Release frees a held lock.
type Release func(ctx context.Context) error

// Locker acquires exclusive locks by key.
type Locker interface {
	// Acquire blocks until the lock for key is held, ctx ends or the wait expires.
	Acquire(ctx context.Context, key string) (Release, error)
}

// Nop grants every lock immediately. Used when no shared store is configured.
type Nop struct{}

// Acquire implements Locker.
func (Nop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
