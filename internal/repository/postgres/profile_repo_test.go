package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
)

func TestProfileRepo_ListActive(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProfileRepo(db)
	conn := uuid.Must(uuid.NewV4())
	p1, p2 := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	user := uuid.Must(uuid.NewV4())
	last := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM prospect_profiles WHERE connection_id=\$1 AND is_active`).
		WithArgs(conn).
		WillReturnRows(pgxmock.NewRows([]string{"id", "connection_id", "user_id", "remote_prospect_id", "email", "name", "company", "is_active", "last_synced_at"}).
			AddRow(p1, conn, user, "42", "a@x.io", "A", "X", true, &last).
			AddRow(p2, conn, user, "43", "", "", "", true, nil))

	ps, err := r.ListActive(context.Background(), conn)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	require.Equal(t, "42", ps[0].RemoteProspectID)
	require.Equal(t, last, *ps[0].LastSyncedAt)
	require.Nil(t, ps[1].LastSyncedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepo_TouchLastSynced(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProfileRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Now()

	require.NoError(t, r.TouchLastSynced(ctx, nil, at))

	mock.ExpectExec(`UPDATE prospect_profiles SET last_synced_at=\$2 WHERE id = ANY\(\$1::uuid\[\]\)`).
		WithArgs([]string{id.String()}, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.TouchLastSynced(ctx, []uuid.UUID{id}, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepo_Enroll(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProfileRepo(db)
	ctx := context.Background()
	existing := uuid.Must(uuid.NewV4())
	p := &model.ProspectProfile{ConnectionID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), RemoteProspectID: "42"}

	mock.ExpectQuery(`INSERT INTO prospect_profiles .* ON CONFLICT \(connection_id, remote_prospect_id\) WHERE is_active DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), p.ConnectionID, p.UserID, "42", "", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "last_synced_at"}).AddRow(existing, nil))
	require.NoError(t, r.Enroll(ctx, p))
	require.Equal(t, existing, p.ID)
	require.True(t, p.Active)

	mock.ExpectQuery(`INSERT INTO prospect_profiles`).
		WithArgs(existing, p.ConnectionID, p.UserID, "42", "", "", "").
		WillReturnError(&pgconn.PgError{Code: "23503"})
	require.ErrorIs(t, r.Enroll(ctx, p), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
