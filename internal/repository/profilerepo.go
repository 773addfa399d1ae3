package repository

import (
	"context"
	"time"

	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ProfileRepository provides access to prospect profiles enrolled for sync.
type ProfileRepository interface {
	// ListActive returns active profiles of a connection.
	ListActive(ctx context.Context, connectionID uuid.UUID) ([]model.ProspectProfile, error)
	// TouchLastSynced sets last_synced_at for the given profiles.
	TouchLastSynced(ctx context.Context, ids []uuid.UUID, at time.Time) error
	// Enroll creates or reactivates a profile for (connection, remote prospect).
	Enroll(ctx context.Context, p *model.ProspectProfile) error
}
