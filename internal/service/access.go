package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/repository"
)

// Access decides which connections a caller may touch.
type Access struct {
	conns    repository.ConnectionRepository
	profiles repository.ProfileRepository
}

// NewAccess constructs Access.
func NewAccess(conns repository.ConnectionRepository, profiles repository.ProfileRepository) *Access {
	return &Access{conns: conns, profiles: profiles}
}

// AuthorizeScope checks that p may connect the CRM for (scope, scopeID).
func (a *Access) AuthorizeScope(p model.Principal, scope model.ScopeType, scopeID uuid.UUID) error {
	if !p.OwnsScope(scope, scopeID) {
		return fmt.Errorf("%w: %s scope %s", errs.ErrForbidden, scope, scopeID)
	}
	return nil
}

// AuthorizeConnection checks that p may use or manage connection id. Owners of the
// connection's scope may do both; users enrolled through an active profile may only
// use it. Anyone else is told the connection does not exist.
func (a *Access) AuthorizeConnection(ctx context.Context, p model.Principal, id uuid.UUID, want model.Access) error {
	conn, err := a.conns.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrNoConnection
	}
	if err != nil {
		return err
	}
	if p.OwnsScope(conn.ScopeType, conn.ScopeID) {
		return nil
	}

	profiles, err := a.profiles.ListActive(ctx, id)
	if err != nil {
		return err
	}
	for _, pr := range profiles {
		if p.UserID != uuid.Nil && pr.UserID == p.UserID {
			if want == model.AccessManage {
				return fmt.Errorf("%w: connection %s is managed by its %s owner", errs.ErrForbidden, id, conn.ScopeType)
			}
			return nil
		}
	}
	return errs.ErrNoConnection
}
