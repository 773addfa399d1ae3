package postgres

import (
	"context"
	"time"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ProfileRepo implements ProfileRepository using PostgreSQL.
type ProfileRepo struct{ db *DB }

// NewProfileRepo constructs a profile repository.
func NewProfileRepo(db *DB) *ProfileRepo { return &ProfileRepo{db: db} }

// ListActive returns active profiles in enrollment order.
func (r *ProfileRepo) ListActive(ctx context.Context, connectionID uuid.UUID) ([]model.ProspectProfile, error) {
	const q = `
SELECT id, connection_id, user_id, remote_prospect_id, email, name, company, is_active, last_synced_at
FROM prospect_profiles
WHERE connection_id=$1 AND is_active
ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, q, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProspectProfile
	for rows.Next() {
		var p model.ProspectProfile
		if err := rows.Scan(&p.ID, &p.ConnectionID, &p.UserID, &p.RemoteProspectID,
			&p.Email, &p.Name, &p.Company, &p.Active, &p.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchLastSynced stamps the given profiles as synced at the provided time.
func (r *ProfileRepo) TouchLastSynced(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	const q = `UPDATE prospect_profiles SET last_synced_at=$2 WHERE id = ANY($1::uuid[])`
	_, err := r.db.Pool.Exec(ctx, q, strs, at)
	return err
}

// Enroll inserts an active profile or refreshes the existing active one.
func (r *ProfileRepo) Enroll(ctx context.Context, p *model.ProspectProfile) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		p.ID = id
	}
	const q = `
INSERT INTO prospect_profiles (id, connection_id, user_id, remote_prospect_id, email, name, company, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, true)
ON CONFLICT (connection_id, remote_prospect_id) WHERE is_active DO UPDATE
SET user_id=EXCLUDED.user_id, email=EXCLUDED.email, name=EXCLUDED.name, company=EXCLUDED.company
RETURNING id, last_synced_at`
	err := r.db.Pool.QueryRow(ctx, q, p.ID, p.ConnectionID, p.UserID, p.RemoteProspectID, p.Email, p.Name, p.Company).
		Scan(&p.ID, &p.LastSyncedAt)
	if isForeignKeyViolation(err) {
		return errs.ErrNotFound
	}
	if err != nil {
		return err
	}
	p.Active = true
	return nil
}
