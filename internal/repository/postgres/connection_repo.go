package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// TokenSealer encrypts OAuth tokens at rest. Implemented by *crypto.Sealer.
type TokenSealer interface {
	Seal(plaintext string, aad []byte) ([]byte, error)
	Open(blob, aad []byte) (string, error)
}

// ConnectionRepo implements ConnectionRepository using PostgreSQL.
// Tokens are sealed with the connection scope as associated data.
type ConnectionRepo struct {
	db     *DB
	sealer TokenSealer
}

// NewConnectionRepo constructs a connection repository.
func NewConnectionRepo(db *DB, sealer TokenSealer) *ConnectionRepo {
	return &ConnectionRepo{db: db, sealer: sealer}
}

const connColumns = `id, scope_type, scope_id, access_token, refresh_token, token_expires_at, created_at, updated_at`

func scopeAAD(t model.ScopeType, id uuid.UUID) []byte {
	return []byte(string(t) + ":" + id.String())
}

func (r *ConnectionRepo) scan(row pgx.Row) (*model.Connection, error) {
	var (
		c          model.Connection
		scope      string
		accessEnc  []byte
		refreshEnc []byte
	)
	if err := row.Scan(&c.ID, &scope, &c.ScopeID, &accessEnc, &refreshEnc, &c.TokenExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err, errs.ErrNotFound)
	}
	c.ScopeType = model.ScopeType(scope)
	aad := scopeAAD(c.ScopeType, c.ScopeID)
	var err error
	if c.AccessToken, err = r.sealer.Open(accessEnc, aad); err != nil {
		return nil, fmt.Errorf("open access token of connection %s: %w", c.ID, err)
	}
	if c.RefreshToken, err = r.sealer.Open(refreshEnc, aad); err != nil {
		return nil, fmt.Errorf("open refresh token of connection %s: %w", c.ID, err)
	}
	return &c, nil
}

func (r *ConnectionRepo) seal(c *model.Connection) (access, refresh []byte, err error) {
	aad := scopeAAD(c.ScopeType, c.ScopeID)
	if access, err = r.sealer.Seal(c.AccessToken, aad); err != nil {
		return nil, nil, err
	}
	if refresh, err = r.sealer.Seal(c.RefreshToken, aad); err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

// GetByID selects a connection by ID.
func (r *ConnectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	const q = `SELECT ` + connColumns + ` FROM crm_connections WHERE id=$1`
	return r.scan(r.db.Pool.QueryRow(ctx, q, id))
}

// GetForUser prefers the user-scoped connection over one reached through an active profile.
func (r *ConnectionRepo) GetForUser(ctx context.Context, userID uuid.UUID) (*model.Connection, error) {
	const q = `
SELECT ` + connColumns + `
FROM crm_connections
WHERE (scope_type='user' AND scope_id=$1)
   OR id IN (SELECT connection_id FROM prospect_profiles WHERE user_id=$1 AND is_active)
ORDER BY (scope_type='user') DESC, updated_at DESC
LIMIT 1`
	return r.scan(r.db.Pool.QueryRow(ctx, q, userID))
}

// Upsert inserts a connection or replaces the tokens of the one owning the same scope.
func (r *ConnectionRepo) Upsert(ctx context.Context, c *model.Connection) error {
	if !c.ScopeType.Valid() {
		return fmt.Errorf("%w: unknown scope type %q", errs.ErrValidation, c.ScopeType)
	}
	if c.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		c.ID = id
	}
	access, refresh, err := r.seal(c)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO crm_connections (id, scope_type, scope_id, access_token, refresh_token, token_expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (scope_type, scope_id) DO UPDATE
SET access_token=EXCLUDED.access_token, refresh_token=EXCLUDED.refresh_token,
    token_expires_at=EXCLUDED.token_expires_at, updated_at=now()
RETURNING id, created_at, updated_at`
	return r.db.Pool.QueryRow(ctx, q, c.ID, string(c.ScopeType), c.ScopeID, access, refresh, c.TokenExpiresAt).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// UpdateTokens writes refreshed tokens.
func (r *ConnectionRepo) UpdateTokens(ctx context.Context, c *model.Connection) error {
	access, refresh, err := r.seal(c)
	if err != nil {
		return err
	}
	const q = `
UPDATE crm_connections
SET access_token=$2, refresh_token=$3, token_expires_at=$4, updated_at=$5
WHERE id=$1`
	now := time.Now().UTC()
	tag, err := r.db.Pool.Exec(ctx, q, c.ID, access, refresh, c.TokenExpiresAt, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	c.UpdatedAt = now
	return nil
}

// Delete removes a connection; cached calls and profiles cascade, sync runs stay.
func (r *ConnectionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM crm_connections WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
