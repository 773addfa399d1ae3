package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RecordingRepo implements RecordingRepository using PostgreSQL.
type RecordingRepo struct{ db *DB }

// NewRecordingRepo constructs a recording repository.
func NewRecordingRepo(db *DB) *RecordingRepo { return &RecordingRepo{db: db} }

// Get loads a recording; a missing row yields errs.ErrRecordingNotFound.
func (r *RecordingRepo) Get(ctx context.Context, id uuid.UUID) (*model.Recording, error) {
	const q = `
SELECT id, user_id, title, duration_seconds, created_at, transcript, summary, analysis
FROM recordings WHERE id=$1`
	var (
		rec      model.Recording
		analysis []byte
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.DurationSeconds,
		&rec.CreatedAt, &rec.Transcript, &rec.Summary, &analysis)
	if err != nil {
		return nil, notFound(err, errs.ErrRecordingNotFound)
	}
	if len(analysis) > 0 {
		if err := json.Unmarshal(analysis, &rec.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis of recording %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
