package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	core "crmkit/data/db"
	"crmkit/data/db/dialect"
)

type insertBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table   string
	columns []string
	rows    [][]any
}

func (b *insertBuilder) Columns(cols ...string) IInsertBuilder {
	b.columns = cols
	return b
}

func (b *insertBuilder) Values(vals ...any) IInsertBuilder {
	if len(vals) == 0 {
		return b
	}
	b.rows = append(b.rows, vals)
	return b
}

// Build 生成 INSERT 语句；非法输入返回空语句，由 Exec 报告具体错误
func (b *insertBuilder) Build() (string, []any) {
	q, args, err := b.build()
	if err != nil {
		return "", nil
	}
	return q, args
}

func (b *insertBuilder) build() (string, []any, error) {
	if len(b.columns) == 0 {
		return "", nil, fmt.Errorf("insertBuilder: columns are required")
	}
	if len(b.rows) == 0 {
		return "", nil, fmt.Errorf("insertBuilder: at least one row is required")
	}
	if !IsSafeIdentifier(b.table) {
		return "", nil, fmt.Errorf("insertBuilder: unsafe table name %q", b.table)
	}

	quotedCols := make([]string, len(b.columns))
	for i, col := range b.columns {
		if !IsSafeIdentifier(col) {
			return "", nil, fmt.Errorf("insertBuilder: unsafe column name %q", col)
		}
		quotedCols[i] = b.dialect.QuoteIdentifier(col)
	}

	var sb strings.Builder
	args := make([]any, 0, len(b.rows)*len(b.columns))

	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quotedCols, ", "))
	sb.WriteString(") VALUES ")

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", ") + ")"
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			return "", nil, fmt.Errorf("insertBuilder: row %d has %d values for %d columns", i, len(row), len(b.columns))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(rowPlaceholder)
		args = append(args, row...)
	}

	return sb.String(), args, nil
}

func (b *insertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := b.build()
	if err != nil {
		return nil, err
	}
	return b.db.Exec(ctx, q, args...)
}
