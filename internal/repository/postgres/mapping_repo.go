package postgres

import (
	"context"

	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MappingRepo implements MappingRepository using PostgreSQL.
type MappingRepo struct{ db *DB }

// NewMappingRepo constructs a mapping repository.
func NewMappingRepo(db *DB) *MappingRepo { return &MappingRepo{db: db} }

// Upsert records the latest publish outcome for (recording, prospect).
func (r *MappingRepo) Upsert(ctx context.Context, m *model.ProspectMapping) error {
	const q = `
INSERT INTO prospect_mappings (recording_id, remote_prospect_id, user_id, email, name, company,
                               sync_status, error_message, activity_id, synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (recording_id, remote_prospect_id) DO UPDATE
SET user_id=EXCLUDED.user_id, email=EXCLUDED.email, name=EXCLUDED.name, company=EXCLUDED.company,
    sync_status=EXCLUDED.sync_status, error_message=EXCLUDED.error_message,
    activity_id=EXCLUDED.activity_id, synced_at=EXCLUDED.synced_at, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, m.RecordingID, m.RemoteProspectID, m.UserID, m.Email, m.Name, m.Company,
		string(m.SyncStatus), m.ErrorMessage, m.ActivityID, m.SyncedAt)
	return err
}

// ListByRecording returns the mappings of a recording ordered by prospect id.
func (r *MappingRepo) ListByRecording(ctx context.Context, recordingID uuid.UUID) ([]model.ProspectMapping, error) {
	const q = `
SELECT recording_id, remote_prospect_id, user_id, email, name, company, sync_status, error_message, activity_id, synced_at
FROM prospect_mappings
WHERE recording_id=$1
ORDER BY remote_prospect_id`
	rows, err := r.db.Pool.Query(ctx, q, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProspectMapping
	for rows.Next() {
		var (
			m      model.ProspectMapping
			status string
		)
		if err := rows.Scan(&m.RecordingID, &m.RemoteProspectID, &m.UserID, &m.Email, &m.Name, &m.Company,
			&status, &m.ErrorMessage, &m.ActivityID, &m.SyncedAt); err != nil {
			return nil, err
		}
		m.SyncStatus = model.SyncStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
