package repository

import (
	"context"

	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MappingRepository stores per-prospect publish outcomes of recordings.
type MappingRepository interface {
	// Upsert writes the mapping for (recording, prospect), overwriting an earlier outcome.
	Upsert(ctx context.Context, m *model.ProspectMapping) error
	// ListByRecording returns all mappings of a recording.
	ListByRecording(ctx context.Context, recordingID uuid.UUID) ([]model.ProspectMapping, error)
}
