package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and a block period.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter. Any pool exposing Exec and QueryRow works.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	if maxFails <= 0 {
		maxFails = 1
	}
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether a run is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, connectionID uuid.UUID, op string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM sync_backoff WHERE connection_id=$1 AND operation=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, connectionID, op).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (connection, operation).
func (l *PG) Success(ctx context.Context, connectionID uuid.UUID, op string) error {
	const q = `
INSERT INTO sync_backoff (connection_id, operation, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (connection_id, operation)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, connectionID, op)
	return err
}

// Failure records an aborted run; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, connectionID uuid.UUID, op string) (bool, time.Duration, error) {
	const q = `
INSERT INTO sync_backoff (connection_id, operation, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (connection_id, operation) DO UPDATE
SET
  fail_count = CASE WHEN now() - sync_backoff.updated_at > $3::interval THEN 1 ELSE sync_backoff.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, connectionID, op, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	blockUntil := l.now().Add(l.blockFor)
	const upd = `UPDATE sync_backoff SET blocked_until=$3 WHERE connection_id=$1 AND operation=$2`
	if _, err := l.pool.Exec(ctx, upd, connectionID, op, blockUntil); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
