package sql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	core "crmkit/data/db"
	"crmkit/data/db/dialect"
)

type updateBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table     string
	setCols   []string
	setArgs   []any
	whereExpr []string
	whereArgs []any
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	if col == "" {
		return b
	}
	b.setCols = append(b.setCols, col)
	b.setArgs = append(b.setArgs, val)
	return b
}

// SetMap 按列名排序追加，保证生成语句稳定
func (b *updateBuilder) SetMap(values map[string]any) IUpdateBuilder {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Set(k, values[k])
	}
	return b
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	if cond != "" {
		b.whereExpr = append(b.whereExpr, cond)
		b.whereArgs = append(b.whereArgs, args...)
	}
	return b
}

// Build 生成 UPDATE 语句；非法输入返回空语句，由 Exec 报告具体错误
func (b *updateBuilder) Build() (string, []any) {
	q, args, err := b.build()
	if err != nil {
		return "", nil
	}
	return q, args
}

func (b *updateBuilder) build() (string, []any, error) {
	if len(b.setCols) == 0 {
		return "", nil, fmt.Errorf("updateBuilder: no columns to set")
	}
	if len(b.whereExpr) == 0 {
		return "", nil, fmt.Errorf("updateBuilder: update without where is not allowed")
	}
	if !IsSafeIdentifier(b.table) {
		return "", nil, fmt.Errorf("updateBuilder: unsafe table name %q", b.table)
	}

	var sb strings.Builder
	args := make([]any, 0, len(b.setArgs)+len(b.whereArgs))

	sb.WriteString("UPDATE ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	sb.WriteString(" SET ")
	for i, col := range b.setCols {
		if !IsSafeIdentifier(col) {
			return "", nil, fmt.Errorf("updateBuilder: unsafe column name %q", col)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.dialect.QuoteIdentifier(col))
		sb.WriteString(" = ?")
		args = append(args, b.setArgs[i])
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(b.whereExpr, " AND "))
	args = append(args, b.whereArgs...)

	return sb.String(), args, nil
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := b.build()
	if err != nil {
		return nil, err
	}
	return b.db.Exec(ctx, q, args...)
}
