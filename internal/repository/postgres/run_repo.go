package postgres

import (
	"context"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RunRepo implements SyncRunRepository using PostgreSQL.
type RunRepo struct{ db *DB }

// NewRunRepo constructs a sync run repository.
func NewRunRepo(db *DB) *RunRepo { return &RunRepo{db: db} }

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Create inserts a pending run.
func (r *RunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	const q = `
INSERT INTO sync_runs (id, connection_id, operation, status, started_at, request_summary)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, run.ID, run.ConnectionID, string(run.Operation), string(model.RunPending),
		run.StartedAt, nullJSON(run.RequestSummary))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if isForeignKeyViolation(err) {
		return errs.ErrNotFound
	}
	return err
}

// Finalize moves a pending run to its terminal state exactly once.
func (r *RunRepo) Finalize(ctx context.Context, run *model.SyncRun) error {
	const q = `
UPDATE sync_runs
SET status=$2, completed_at=$3, records_processed=$4, records_successful=$5, records_failed=$6,
    response_summary=$7, error_message=$8
WHERE id=$1 AND status='pending'`
	tag, err := r.db.Pool.Exec(ctx, q, run.ID, string(run.Status), run.CompletedAt,
		run.Counts.Processed, run.Counts.Successful, run.Counts.Failed,
		nullJSON(run.ResponseSummary), run.ErrorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRunFinalized
	}
	return nil
}

// List returns recent runs of a connection.
func (r *RunRepo) List(ctx context.Context, connectionID uuid.UUID, limit int) ([]model.SyncRun, error) {
	const q = `
SELECT id, connection_id, operation, status, started_at, completed_at,
       records_processed, records_successful, records_failed, request_summary, response_summary, error_message
FROM sync_runs
WHERE connection_id=$1
ORDER BY started_at DESC, id
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, connectionID, clampLimit(limit, 20, 200))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncRun
	for rows.Next() {
		var (
			run       model.SyncRun
			op, st    string
			req, resp []byte
		)
		if err := rows.Scan(&run.ID, &run.ConnectionID, &op, &st, &run.StartedAt, &run.CompletedAt,
			&run.Counts.Processed, &run.Counts.Successful, &run.Counts.Failed, &req, &resp, &run.ErrorMessage); err != nil {
			return nil, err
		}
		run.Operation = model.Operation(op)
		run.Status = model.RunStatus(st)
		run.RequestSummary = req
		run.ResponseSummary = resp
		out = append(out, run)
	}
	return out, rows.Err()
}
