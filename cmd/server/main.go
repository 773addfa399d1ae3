// Command crmsync-server serves the CRM sync HTTP API and the admin gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/app"
	"github.com/and161185/crmsync/internal/config"
	"github.com/and161185/crmsync/internal/migrate"
	grpcserver "github.com/and161185/crmsync/internal/server/grpc"
	"github.com/and161185/crmsync/internal/server/httpapi"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

// main loads configuration, runs migrations, and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file")
	dev := flag.Bool("dev", false, "development logging and gRPC reflection")
	skipMigrate := flag.Bool("skip-migrate", false, "do not apply migrations on start")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger, _ := app.NewLogger(*dev || cfg.Log.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("admin_addr", cfg.AdminAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*skipMigrate {
		if err := migrate.Up(ctx, cfg.Database.DSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
	}

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	router := httpapi.NewRouter(httpapi.Deps{
		Syncer:     engine.Inbound,
		Publisher:  engine.Publisher,
		Connector:  engine.Tokens,
		Runs:       engine.Audit,
		Access:     engine.Access,
		DB:         engine.DB,
		Tokens:     httpapi.NewTokens([]byte(cfg.Auth.JWTKey), cfg.Auth.TokenTTL),
		Logger:     logger.Named("http"),
		RunTimeout: cfg.Sync.RunTimeout,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	admin := grpcserver.NewAdmin(logger.Named("admin"), engine.DB, 10*time.Second, *dev)
	lis, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		logger.Fatal("listen admin", zap.Error(err))
	}
	go admin.Watch(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("admin listening", zap.String("addr", cfg.AdminAddr))
		errCh <- admin.Serve(lis)
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		admin.Stop(5 * time.Second)
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		engine.Close()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
