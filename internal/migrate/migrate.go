// Package migrate applies the embedded SQL migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/crmsync/migrations"
)

// Runner applies migrations to one database.
type Runner struct {
	db       *sql.DB
	provider *goose.Provider
}

// Open prepares a Runner for dsn. The caller must Close it.
func Open(dsn string) (*Runner, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	p, err := newProvider(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Runner{db: db, provider: p}, nil
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return p, nil
}

// Close releases the database handle.
func (r *Runner) Close() error { return r.db.Close() }

// Up applies every pending migration and returns the versions applied.
func (r *Runner) Up(ctx context.Context) ([]int64, error) {
	res, err := r.provider.Up(ctx)
	versions := make([]int64, 0, len(res))
	for _, m := range res {
		versions = append(versions, m.Source.Version)
	}
	return versions, err
}

// Down rolls back the latest applied migration.
func (r *Runner) Down(ctx context.Context) (int64, error) {
	res, err := r.provider.Down(ctx)
	if err != nil {
		return 0, err
	}
	return res.Source.Version, nil
}

// Status lists every known migration and whether it is applied.
func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	return r.provider.Status(ctx)
}

// Up runs all pending migrations against dsn.
func Up(ctx context.Context, dsn string) error {
	r, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	_, err = r.Up(ctx)
	return err
}
