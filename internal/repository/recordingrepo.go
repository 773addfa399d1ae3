package repository

import (
	"context"

	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RecordingRepository reads recordings produced by the transcription pipeline.
type RecordingRepository interface {
	// Get loads a recording with its transcript and analysis.
	Get(ctx context.Context, id uuid.UUID) (*model.Recording, error)
}
