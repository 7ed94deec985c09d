package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"crmkit/app"
	dbbasic "crmkit/data/db/basic"
	"crmkit/data/db/migrations"
	"crmkit/errors"
	"crmkit/monitoring"
)

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Select the storage backend and verify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				report := e.Health(ctx)
				err := opts.print(cmd.OutOrStdout(), report, func(w io.Writer) error {
					fmt.Fprintf(w, "backend: %s\nstatus:  %s\n", report.Backend, report.Status)
					for _, issue := range report.Issues {
						fmt.Fprintf(w, "issue:   %s\n", issue)
					}
					return nil
				})
				if err != nil {
					return err
				}
				if report.Status == monitoring.StatusUnhealthy {
					return errors.NewError(errors.ErrCodeBackendUnavailable, strings.Join(report.Issues, "; "))
				}
				return nil
			})
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the durable backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return errors.NewFieldError(errors.KindMalformed, "DB_DSN", "DB_DSN is required for migrate")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := dbbasic.New(ctx, cfg.DB)
			if err != nil {
				return errors.WrapError(err, errors.ErrCodeBackendUnavailable, "connect database")
			}
			defer db.Close()

			if err := migrations.Up(ctx, db); err != nil {
				return errors.WrapError(err, errors.ErrCodeBackendUnavailable, "apply migrations")
			}
			version, err := migrations.Version(ctx, db)
			if err != nil {
				return errors.WrapError(err, errors.ErrCodeBackendUnavailable, "read schema version")
			}
			result := map[string]any{"driver": cfg.DB.Driver, "version": version}
			return opts.print(cmd.OutOrStdout(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s schema at version %d\n", cfg.DB.Driver, version)
				return err
			})
		},
	}
}
