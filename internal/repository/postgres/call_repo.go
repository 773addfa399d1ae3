package postgres

import (
	"context"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// CallRepo implements CallCacheRepository using PostgreSQL.
type CallRepo struct{ db *DB }

// NewCallRepo constructs a call cache repository.
func NewCallRepo(db *DB) *CallRepo { return &CallRepo{db: db} }

const callColumns = `connection_id, remote_call_id, prospect_id, user_id, subject, body, disposition,
duration_seconds, remote_occurred_at, remote_created_at, remote_updated_at, raw_payload, sync_status, last_synced_at`

func scanCall(row pgx.Row) (*model.CachedCall, error) {
	var (
		c      model.CachedCall
		raw    []byte
		status string
	)
	if err := row.Scan(&c.ConnectionID, &c.RemoteCallID, &c.ProspectID, &c.UserID, &c.Subject, &c.Body,
		&c.Disposition, &c.DurationSeconds, &c.RemoteOccurredAt, &c.RemoteCreatedAt, &c.RemoteUpdatedAt,
		&raw, &status, &c.LastSyncedAt); err != nil {
		return nil, err
	}
	c.RawPayload = raw
	c.SyncStatus = model.SyncStatus(status)
	return &c, nil
}

// Get loads one cached call by its natural key.
func (r *CallRepo) Get(ctx context.Context, connectionID uuid.UUID, remoteCallID string) (*model.CachedCall, error) {
	const q = `SELECT ` + callColumns + ` FROM crm_calls WHERE connection_id=$1 AND remote_call_id=$2`
	c, err := scanCall(r.db.Pool.QueryRow(ctx, q, connectionID, remoteCallID))
	if err != nil {
		return nil, notFound(err, errs.ErrNotFound)
	}
	return c, nil
}

// Upsert writes the call, overwriting every mutable column of an existing row.
func (r *CallRepo) Upsert(ctx context.Context, c *model.CachedCall) error {
	const q = `
INSERT INTO crm_calls (` + callColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (connection_id, remote_call_id) DO UPDATE
SET prospect_id=EXCLUDED.prospect_id, user_id=EXCLUDED.user_id, subject=EXCLUDED.subject,
    body=EXCLUDED.body, disposition=EXCLUDED.disposition, duration_seconds=EXCLUDED.duration_seconds,
    remote_occurred_at=EXCLUDED.remote_occurred_at, remote_created_at=EXCLUDED.remote_created_at,
    remote_updated_at=EXCLUDED.remote_updated_at, raw_payload=EXCLUDED.raw_payload,
    sync_status=EXCLUDED.sync_status, last_synced_at=EXCLUDED.last_synced_at`
	raw := []byte(c.RawPayload)
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	_, err := r.db.Pool.Exec(ctx, q, c.ConnectionID, c.RemoteCallID, c.ProspectID, c.UserID, c.Subject, c.Body,
		c.Disposition, c.DurationSeconds, c.RemoteOccurredAt, c.RemoteCreatedAt, c.RemoteUpdatedAt,
		raw, string(c.SyncStatus), c.LastSyncedAt)
	return err
}

// List returns cached calls of a connection, newest occurrence first.
func (r *CallRepo) List(ctx context.Context, connectionID uuid.UUID, prospectID string, limit int) ([]model.CachedCall, error) {
	const q = `
SELECT ` + callColumns + `
FROM crm_calls
WHERE connection_id=$1 AND ($2='' OR prospect_id=$2)
ORDER BY remote_occurred_at DESC NULLS LAST, remote_call_id
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, connectionID, prospectID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CachedCall
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
