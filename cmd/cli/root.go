package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/app"
	"github.com/and161185/crmsync/internal/config"
	"github.com/and161185/crmsync/internal/model"
)

// Engine is what the job commands drive.
type Engine interface {
	RunSync(ctx context.Context, connectionID uuid.UUID, mode model.SyncMode, lookbackDays int) (model.SyncResult, error)
	PublishRecording(ctx context.Context, recordingID, userID uuid.UUID, manual []model.ManualProspect) (model.PublishResult, error)
	ListRuns(ctx context.Context, connectionID uuid.UUID, limit int) ([]model.SyncRun, error)
	Close()
}

// EngineFactory builds an Engine from configuration.
type EngineFactory func(ctx context.Context, cfg *config.Config, log *zap.Logger) (Engine, error)

// RootOptions holds global flags and the collaborators of every command.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Dev        bool
	Format     string // "text" | "json"
	Timeout    time.Duration

	NewEngine  EngineFactory
	LoadConfig func(path, envFile string) (*config.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

var errRunFailed = errors.New("run finished with status error")

// appEngine adapts the wired application to Engine.
type appEngine struct{ *app.App }

func (e appEngine) RunSync(ctx context.Context, id uuid.UUID, mode model.SyncMode, lookback int) (model.SyncResult, error) {
	return e.Inbound.RunSync(ctx, id, mode, lookback)
}

func (e appEngine) PublishRecording(ctx context.Context, rec, user uuid.UUID, manual []model.ManualProspect) (model.PublishResult, error) {
	return e.Publisher.PublishRecording(ctx, rec, user, manual)
}

func (e appEngine) ListRuns(ctx context.Context, id uuid.UUID, limit int) ([]model.SyncRun, error) {
	return e.Audit.List(ctx, id, limit)
}

func newAppEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (Engine, error) {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return appEngine{a}, nil
}

// NewRootCommand creates the crmsync command tree. nil opts use the real engine.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}
	if opts.NewEngine == nil {
		opts.NewEngine = newAppEngine
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}

	cmd := &cobra.Command{
		Use:           "crmsync",
		Short:         "CRM synchronization jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file")
	cmd.PersistentFlags().BoolVar(&opts.Dev, "dev", false, "development logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 0, "run deadline (default sync.run_timeout)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	return cmd
}

// session loads config and a logger, and bounds ctx by the run deadline.
type session struct {
	cfg    *config.Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func (o *RootOptions) open(parent context.Context) (*session, error) {
	cfg, err := o.LoadConfig(o.ConfigPath, o.EnvFile)
	if err != nil {
		return nil, err
	}
	log, err := app.NewLogger(o.Dev || cfg.Log.Dev)
	if err != nil {
		return nil, err
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = cfg.Sync.RunTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	return &session{cfg: cfg, log: log, ctx: ctx, cancel: cancel}, nil
}

func (s *session) close() {
	s.cancel()
	_ = s.log.Sync()
}

// withEngine runs fn with a freshly built engine.
func (o *RootOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e Engine) error) error {
	s, err := o.open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()
	e, err := o.NewEngine(s.ctx, s.cfg, s.log)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(s.ctx, e)
}

func parseUUID(flag, v string) (uuid.UUID, error) {
	id, err := uuid.FromString(v)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("--%s: invalid id %q", flag, v)
	}
	return id, nil
}
