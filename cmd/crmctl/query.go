package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"crmkit/app"
	"crmkit/domain/crud"
	"crmkit/domain/query"
	"crmkit/export"
)

// queryFlags 查询描述参数
type queryFlags struct {
	filters  []string
	sorts    []string
	search   string
	columns  []string
	page     int
	pageSize int
	deleted  bool
}

func (q *queryFlags) bind(cmd *cobra.Command, paged bool) {
	cmd.Flags().StringArrayVarP(&q.filters, "filter", "f", nil, "filter as field:operator[:value], in/not_in values comma separated, repeatable")
	cmd.Flags().StringArrayVarP(&q.sorts, "sort", "s", nil, "sort as field[:asc|desc], repeatable, first wins")
	cmd.Flags().StringVarP(&q.search, "search", "q", "", "free-text search over searchable columns")
	cmd.Flags().StringSliceVarP(&q.columns, "columns", "c", nil, "columns to return")
	cmd.Flags().BoolVar(&q.deleted, "deleted", false, "list soft-deleted records instead of active ones")
	if paged {
		cmd.Flags().IntVar(&q.page, "page", 1, "page number")
		cmd.Flags().IntVar(&q.pageSize, "page-size", 0, "page size (server default when 0)")
	}
}

func (q *queryFlags) descriptor() (query.Descriptor, error) {
	d := query.Descriptor{
		Page:     q.page,
		PageSize: q.pageSize,
		Search:   q.search,
		Columns:  q.columns,
	}
	if q.deleted {
		d.Scope = query.ScopeDeleted
	}
	filters, err := parseFilters(q.filters)
	if err != nil {
		return d, err
	}
	d.Filters = filters
	for i, raw := range q.sorts {
		s, err := parseSort(raw)
		if err != nil {
			return d, err
		}
		s.Priority = i
		d.Sorts = append(d.Sorts, s)
	}
	return d, nil
}

// parseFilters 解析 field:operator[:value]；in/not_in 的值在此按逗号拆分为列表
func parseFilters(raws []string) ([]query.Filter, error) {
	b := crud.NewFilterBuilder()
	for _, raw := range raws {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid filter %q: want field:operator[:value]", raw)
		}
		field, op := parts[0], query.Operator(strings.ToLower(parts[1]))
		var value any
		if len(parts) == 3 {
			value = parts[2]
		}

		switch op {
		case query.OpIn:
			b.In(field, splitList(parts)...)
		case query.OpNotIn:
			b.NotIn(field, splitList(parts)...)
		case query.OpIsNull:
			b.IsNull(field)
		case query.OpIsNotNull:
			b.IsNotNull(field)
		default:
			b.Where(field, op, value)
		}
	}
	return b.Build(), nil
}

func splitList(parts []string) []any {
	if len(parts) < 3 {
		return nil
	}
	var out []any
	for _, item := range strings.Split(parts[2], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseSort(raw string) (query.Sort, error) {
	field, dir, _ := strings.Cut(raw, ":")
	if field == "" {
		return query.Sort{}, fmt.Errorf("invalid sort %q", raw)
	}
	s := query.Sort{Field: field, Direction: query.Asc}
	switch strings.ToLower(dir) {
	case "", "asc":
	case "desc":
		s.Direction = query.Desc
	default:
		return query.Sort{}, fmt.Errorf("invalid sort direction %q", dir)
	}
	return s, nil
}

func newQueryCommand(opts *rootOptions) *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "query <entity>",
		Short: "Run a paginated query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := q.descriptor()
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				page, err := e.QueryEntity(ctx, args[0], d)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), page, func(w io.Writer) error {
					for _, rec := range page.Data {
						fmt.Fprintln(w, formatRecord(rec))
					}
					_, err := fmt.Fprintf(w, "page %d/%d, %d total\n", page.Page, page.TotalPages, page.Total)
					return err
				})
			})
		},
	}
	q.bind(cmd, true)
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		q      queryFlags
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <entity>",
		Short: "Export all matching records as CSV or a printable document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := q.descriptor()
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					file, err := os.Create(out)
					if err != nil {
						return err
					}
					defer file.Close()
					w = file
				}
				summary, err := e.ExportEntity(ctx, args[0], d, f, w)
				if err != nil {
					return err
				}
				if summary.Truncated {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: export truncated to %d of %d rows\n", summary.Rows, summary.Total)
				}
				return nil
			})
		},
	}
	q.bind(cmd, false)
	cmd.Flags().StringVar(&format, "format", "csv", "export format (csv|print)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}
