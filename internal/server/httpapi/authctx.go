package httpapi

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/crmsync/internal/model"
)

type ctxKey string

const principalKey ctxKey = "crmsync.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the authenticated caller from context.
func PrincipalFromCtx(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok && p.UserID != uuid.Nil
}

// WithUserID stores a caller that acts for no org.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return WithPrincipal(ctx, model.Principal{UserID: id})
}

// UserIDFromCtx fetches the authenticated user ID from context.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromCtx(ctx)
	return p.UserID, ok
}
