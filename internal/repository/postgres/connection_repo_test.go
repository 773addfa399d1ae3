package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/crmsync/internal/crypto"
	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
)

func newSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	s, err := crypto.NewSealer(make([]byte, 32))
	require.NoError(t, err)
	return s
}

var connCols = []string{"id", "scope_type", "scope_id", "access_token", "refresh_token", "token_expires_at", "created_at", "updated_at"}

func TestConnectionRepo_GetByID_OpensTokens(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := newSealer(t)
	r := NewConnectionRepo(db, s)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	scope := uuid.Must(uuid.NewV4())
	aad := scopeAAD(model.ScopeOrg, scope)
	at, err := s.Seal("access-1", aad)
	require.NoError(t, err)
	rt, err := s.Seal("refresh-1", aad)
	require.NoError(t, err)
	exp := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, scope_type, scope_id, access_token, refresh_token, token_expires_at, created_at, updated_at FROM crm_connections WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(connCols).AddRow(id, "org", scope, at, rt, exp, exp, exp))

	c, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.ScopeOrg, c.ScopeType)
	require.Equal(t, "access-1", c.AccessToken)
	require.Equal(t, "refresh-1", c.RefreshToken)
	require.Equal(t, exp, c.TokenExpiresAt)

	mock.ExpectQuery(`FROM crm_connections WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepo_GetByID_ScopeMismatchFailsToOpen(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := newSealer(t)
	r := NewConnectionRepo(db, s)

	id := uuid.Must(uuid.NewV4())
	scope := uuid.Must(uuid.NewV4())
	at, err := s.Seal("access-1", scopeAAD(model.ScopeUser, scope))
	require.NoError(t, err)
	now := time.Now()

	mock.ExpectQuery(`FROM crm_connections WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(connCols).AddRow(id, "org", scope, at, []byte(nil), now, now, now))

	_, err = r.GetByID(context.Background(), id)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestConnectionRepo_GetForUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConnectionRepo(db, newSealer(t))
	user := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM crm_connections WHERE \(scope_type='user' AND scope_id=\$1\) OR id IN \(SELECT connection_id FROM prospect_profiles WHERE user_id=\$1 AND is_active\)`).
		WithArgs(user).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.GetForUser(context.Background(), user)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepo_Upsert(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConnectionRepo(db, newSealer(t))
	ctx := context.Background()

	existing := uuid.Must(uuid.NewV4())
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &model.Connection{
		ScopeType:      model.ScopeUser,
		ScopeID:        uuid.Must(uuid.NewV4()),
		AccessToken:    "a",
		RefreshToken:   "r",
		TokenExpiresAt: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(`INSERT INTO crm_connections .* ON CONFLICT \(scope_type, scope_id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "user", c.ScopeID, pgxmock.AnyArg(), pgxmock.AnyArg(), c.TokenExpiresAt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(existing, created, created))

	require.NoError(t, r.Upsert(ctx, c))
	require.Equal(t, existing, c.ID)
	require.Equal(t, created, c.CreatedAt)

	bad := &model.Connection{ScopeType: "team"}
	require.Error(t, r.Upsert(ctx, bad))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepo_UpdateTokens_And_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConnectionRepo(db, newSealer(t))
	ctx := context.Background()
	c := &model.Connection{ID: uuid.Must(uuid.NewV4()), ScopeType: model.ScopeOrg, ScopeID: uuid.Must(uuid.NewV4()),
		AccessToken: "a2", RefreshToken: "r2", TokenExpiresAt: time.Now().Add(time.Hour)}

	mock.ExpectExec(`UPDATE crm_connections SET access_token=\$2, refresh_token=\$3, token_expires_at=\$4, updated_at=\$5 WHERE id=\$1`).
		WithArgs(c.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), c.TokenExpiresAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdateTokens(ctx, c))

	mock.ExpectExec(`UPDATE crm_connections`).
		WithArgs(c.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), c.TokenExpiresAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.UpdateTokens(ctx, c), errs.ErrNotFound)

	mock.ExpectExec(`DELETE FROM crm_connections WHERE id=\$1`).
		WithArgs(c.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, c.ID))

	mock.ExpectExec(`DELETE FROM crm_connections WHERE id=\$1`).
		WithArgs(c.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.Delete(ctx, c.ID), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
