// Package app assembles the sync engine from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/config"
	"github.com/and161185/crmsync/internal/crm"
	"github.com/and161185/crmsync/internal/crypto"
	"github.com/and161185/crmsync/internal/limiter"
	"github.com/and161185/crmsync/internal/lock"
	"github.com/and161185/crmsync/internal/repository/postgres"
	"github.com/and161185/crmsync/internal/service"
)

const lockPrefix = "crmsync:refresh:"

// App holds the wired engine components.
type App struct {
	DB        *postgres.DB
	Tokens    *service.TokenManager
	Inbound   *service.InboundSync
	Publisher *service.Publisher
	Audit     *service.AuditLogger
	Access    *service.Access

	closers []func()
}

// New connects to the stores named in cfg and builds every service.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := postgres.New(ctx, cfg.Database.DSN, postgres.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	a := &App{DB: db, closers: []func(){db.Close}}

	locker, closeLock, err := newLocker(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeLock)

	if err := a.build(cfg, locker, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newLocker(ctx context.Context, cfg config.Redis) (lock.Locker, func(), error) {
	if cfg.URL == "" {
		return lock.Nop{}, func() {}, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return lock.NewRedis(client, lockPrefix, cfg.LockTTL, cfg.LockWait), func() { _ = client.Close() }, nil
}

func (a *App) build(cfg *config.Config, locker lock.Locker, log *zap.Logger) error {
	sealer, err := crypto.NewSealer(crypto.DeriveKey([]byte(cfg.Seal.Secret), []byte(cfg.Seal.Salt)))
	if err != nil {
		return fmt.Errorf("token sealer: %w", err)
	}
	httpClient := &http.Client{Timeout: cfg.CRM.Timeout}
	client, err := crm.NewClient(cfg.CRM.BaseURL, httpClient, crm.Limits{
		PageSize:   cfg.CRM.PageSize,
		MaxPages:   cfg.CRM.MaxPages,
		MaxRecords: cfg.CRM.MaxRecords,
	})
	if err != nil {
		return err
	}

	conns := postgres.NewConnectionRepo(a.DB, sealer)
	profiles := postgres.NewProfileRepo(a.DB)
	calls := postgres.NewCallRepo(a.DB)
	mappings := postgres.NewMappingRepo(a.DB)
	runs := postgres.NewRunRepo(a.DB)
	recordings := postgres.NewRecordingRepo(a.DB)

	b := cfg.Sync.Backoff
	lim := limiter.NewPG(a.DB.Pool, b.Window, b.MaxFailures, b.BlockFor)

	a.Tokens = service.NewTokenManager(conns, service.OAuthConfig{
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		AuthURL:      cfg.CRM.AuthURL,
		TokenURL:     cfg.CRM.TokenURL,
		RedirectURL:  cfg.CRM.RedirectURL,
		Scopes:       cfg.CRM.Scopes,
	}, httpClient, locker, cfg.CRM.TokenSkew, log.Named("tokens"))
	a.Audit = service.NewAuditLogger(runs, log.Named("audit"))
	a.Access = service.NewAccess(conns, profiles)
	a.Inbound = service.NewInboundSync(conns, profiles, calls, a.Tokens, client, a.Audit, service.InboundOptions{
		Workers: cfg.Sync.Workers,
		Limiter: lim,
		Logger:  log.Named("inbound"),
	})
	a.Publisher = service.NewPublisher(conns, recordings, mappings, a.Tokens, client,
		service.NewDiscovery(client, log.Named("discovery")), a.Audit, service.PublisherOptions{
			Limiter: lim,
			Logger:  log.Named("publisher"),
		})
	return nil
}

// Close releases pools and clients in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewLogger builds the process logger.
func NewLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
