package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"crmkit/app"
	"crmkit/domain/entity"
	"crmkit/errors"
	"crmkit/export"
)

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewFieldError(errors.KindMalformed, entity.FieldID, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		actor actorFlags
		data  string
	)
	cmd := &cobra.Command{
		Use:   "create <entity>",
		Short: "Create an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, data)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rec, err := e.CreateEntity(ctx, args[0], payload, actor.actor())
				if err != nil {
					return err
				}
				return opts.printRecord(cmd, rec)
			})
		},
	}
	actor.bind(cmd)
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON object, @file or - for stdin")
	return cmd
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	var (
		actor actorFlags
		data  string
	)
	cmd := &cobra.Command{
		Use:   "update <entity> <id>",
		Short: "Patch an active entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			patch, err := readPayload(cmd, data)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rec, err := e.UpdateEntity(ctx, args[0], id, patch, actor.actor())
				if err != nil {
					return err
				}
				return opts.printRecord(cmd, rec)
			})
		},
	}
	actor.bind(cmd)
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON object, @file or - for stdin")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	var actor actorFlags
	cmd := &cobra.Command{
		Use:   "delete <entity> <id>",
		Short: "Soft-delete an active entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				ok, err := e.DeleteEntity(ctx, args[0], id, actor.actor())
				if err != nil {
					return err
				}
				result := map[string]any{"id": id, "deleted": ok}
				return opts.print(cmd.OutOrStdout(), result, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "deleted %s %d\n", args[0], id)
					return err
				})
			})
		},
	}
	actor.bind(cmd)
	return cmd
}

func newRestoreCommand(opts *rootOptions) *cobra.Command {
	var actor actorFlags
	cmd := &cobra.Command{
		Use:   "restore <entity> <id>",
		Short: "Restore a soft-deleted entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rec, err := e.RestoreEntity(ctx, args[0], id, actor.actor())
				if err != nil {
					return err
				}
				return opts.printRecord(cmd, rec)
			})
		},
	}
	actor.bind(cmd)
	return cmd
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "audit <entity> <id>",
		Short: "Show the audit trail of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				trail, err := e.AuditTrail(ctx, args[0], id, offset, limit)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), trail, func(w io.Writer) error {
					for _, r := range trail {
						fmt.Fprintf(w, "%s %-7s %-8s by=%s changed=%s\n",
							r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), r.Operation, r.RiskLevel,
							r.UserID, strings.Join(r.ChangedFields, ","))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records (server default when 0)")
	return cmd
}

func (o *rootOptions) printRecord(cmd *cobra.Command, rec entity.Record) error {
	return o.print(cmd.OutOrStdout(), rec, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, formatRecord(rec))
		return err
	})
}

// formatRecord 单行 key=value，键按字母序
func formatRecord(rec entity.Record) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + export.FormatValue(rec[k])
	}
	return strings.Join(parts, " ")
}
