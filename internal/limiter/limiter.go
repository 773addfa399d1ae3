// Package limiter backs off sync runs of a connection after repeated run-aborting failures.
package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Limiter decides whether a new run of (connection, operation) may start.
type Limiter interface {
	// Allow reports whether a run may start and, when blocked, the retry-after.
	Allow(ctx context.Context, connectionID uuid.UUID, op string) (bool, time.Duration, error)
	// Success resets the failure counter after a run that was not aborted.
	Success(ctx context.Context, connectionID uuid.UUID, op string) error
	// Failure records an aborted run; may place a temporary block.
	Failure(ctx context.Context, connectionID uuid.UUID, op string) (bool, time.Duration, error)
}

// Nop never blocks.
type Nop struct{}

func (Nop) Allow(context.Context, uuid.UUID, string) (bool, time.Duration, error) { return true, 0, nil }
func (Nop) Success(context.Context, uuid.UUID, string) error                     { return nil }
func (Nop) Failure(context.Context, uuid.UUID, string) (bool, time.Duration, error) {
	return false, 0, nil
}
