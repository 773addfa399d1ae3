// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/crmsync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ConnectionRepository stores CRM connections and their OAuth tokens.
type ConnectionRepository interface {
	// GetByID loads a connection by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Connection, error)
	// GetForUser returns the connection a user publishes through: the user's own
	// connection if present, otherwise the connection of a profile the user owns.
	GetForUser(ctx context.Context, userID uuid.UUID) (*model.Connection, error)
	// Upsert creates the connection for its scope or replaces the tokens of the
	// existing one. c.ID, CreatedAt and UpdatedAt are filled from the stored row.
	Upsert(ctx context.Context, c *model.Connection) error
	// UpdateTokens persists refreshed tokens of an existing connection.
	UpdateTokens(ctx context.Context, c *model.Connection) error
	// Delete removes a connection and everything cached under it.
	Delete(ctx context.Context, id uuid.UUID) error
}
