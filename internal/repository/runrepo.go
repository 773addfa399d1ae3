package repository

import (
	"context"

	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SyncRunRepository is the append-only audit trail of sync runs.
type SyncRunRepository interface {
	// Create inserts a pending run.
	Create(ctx context.Context, r *model.SyncRun) error
	// Finalize completes a pending run; a run that is no longer pending yields errs.ErrRunFinalized.
	Finalize(ctx context.Context, r *model.SyncRun) error
	// List returns the latest runs of a connection, newest first.
	List(ctx context.Context, connectionID uuid.UUID, limit int) ([]model.SyncRun, error)
}
