package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/and161185/crmsync/internal/migrate"
	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/server/httpapi"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var (
		connection string
		syncType   string
		lookback   int
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull call activities of a connection into the local cache",
		Long: `Run one inbound sync for a CRM connection.

Exits non-zero when the run ends with status error.

Examples:
  crmsync sync --connection 6f1c... --type full
  crmsync sync --connection 6f1c... --lookback 7 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUID("connection", connection)
			if err != nil {
				return err
			}
			mode, err := model.ParseSyncMode(syncType)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e Engine) error {
				res, err := e.RunSync(ctx, id, mode, lookback)
				if err != nil {
					return err
				}
				if err := writeSyncResult(cmd.OutOrStdout(), opts.Format, res); err != nil {
					return err
				}
				if res.Status == model.RunError {
					return errRunFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&connection, "connection", "", "connection id (required)")
	_ = cmd.MarkFlagRequired("connection")
	cmd.Flags().StringVar(&syncType, "type", string(model.ModeIncremental), "sync type (full|incremental)")
	cmd.Flags().IntVar(&lookback, "lookback", 0, "incremental lookback in days (default 30)")
	return cmd
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(opts *RootOptions) *cobra.Command {
	var (
		recording string
		user      string
		prospects string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Create CRM call activities for a recording",
		Long: `Publish a recording to the CRM, one call activity per prospect.

--prospects names a JSON file with a manual mapping that replaces discovery:
  [{"prospect_id":"42","email":"ana@acme.io"}]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recID, err := parseUUID("recording", recording)
			if err != nil {
				return err
			}
			userID, err := parseUUID("user", user)
			if err != nil {
				return err
			}
			manual, err := readManualProspects(prospects)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e Engine) error {
				res, err := e.PublishRecording(ctx, recID, userID, manual)
				if err != nil {
					return err
				}
				if err := writePublishResult(cmd.OutOrStdout(), opts.Format, res); err != nil {
					return err
				}
				if res.Status == model.RunError {
					return errRunFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&recording, "recording", "", "recording id (required)")
	cmd.Flags().StringVar(&user, "user", "", "owning user id (required)")
	cmd.Flags().StringVar(&prospects, "prospects", "", "manual prospect mapping JSON file")
	_ = cmd.MarkFlagRequired("recording")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func readManualProspects(path string) ([]model.ManualProspect, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []model.ManualProspect
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(opts *RootOptions) *cobra.Command {
	var (
		connection string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs of a connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUID("connection", connection)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e Engine) error {
				runs, err := e.ListRuns(ctx, id, limit)
				if err != nil {
					return err
				}
				return writeRuns(cmd.OutOrStdout(), opts.Format, runs)
			})
		},
	}
	cmd.Flags().StringVar(&connection, "connection", "", "connection id (required)")
	_ = cmd.MarkFlagRequired("connection")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

// NewTokenCommand creates the token command, which mints an API bearer token.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var user, org string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HTTP API bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUID("user", user)
			if err != nil {
				return err
			}
			p := model.Principal{UserID: id}
			if org != "" {
				if p.OrgID, err = parseUUID("org", org); err != nil {
					return err
				}
			}
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			tok, exp, err := httpapi.NewTokens([]byte(s.cfg.Auth.JWTKey), s.cfg.Auth.TokenTTL).Issue(p)
			if err != nil {
				return err
			}
			return writeToken(cmd.OutOrStdout(), opts.Format, tok, exp)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (required)")
	cmd.Flags().StringVar(&org, "org", "", "org id the user may manage org connections for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// NewMigrateCommand creates the migrate command with up, down and status.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	run := func(fn func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			r, err := migrate.Open(s.cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()
			return fn(s.ctx, cmd, r)
		}
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner) error {
			versions, err := r.Up(ctx)
			for _, v := range versions {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %05d\n", v)
			}
			if err == nil && len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			return err
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner) error {
			v, err := r.Down(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %05d\n", v)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner) error {
			st, err := r.Status(ctx)
			if err != nil {
				return err
			}
			for _, m := range st {
				fmt.Fprintf(cmd.OutOrStdout(), "%05d  %-8s  %s\n", m.Source.Version, m.State, m.Source.Path)
			}
			return nil
		}),
	})
	return cmd
}
