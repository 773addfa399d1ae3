package repository

import (
	"context"

	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CallCacheRepository is the local mirror of remote call activities.
type CallCacheRepository interface {
	// Get returns the cached call for (connection, remote id) or errs.ErrNotFound.
	Get(ctx context.Context, connectionID uuid.UUID, remoteCallID string) (*model.CachedCall, error)
	// Upsert inserts or overwrites the row keyed by (connection, remote id).
	Upsert(ctx context.Context, c *model.CachedCall) error
	// List returns cached calls newest first, optionally filtered by prospect.
	List(ctx context.Context, connectionID uuid.UUID, prospectID string, limit int) ([]model.CachedCall, error)
}
