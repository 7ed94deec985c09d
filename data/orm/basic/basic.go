package basic

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	dbcore "crmkit/data/db"
	"crmkit/data/db/dialect"
	dbsql "crmkit/data/db/sql"
	"crmkit/data/orm"
)

// Orm 是基于 crmkit/data/db + crmkit/data/db/sql 的轻量 IOrm 实现。
//
// 以 orm.Row（列名 → 值）读写，不依赖结构体反射；
// 列名一律经 ModelMeta 白名单校验并按方言转义。
type Orm struct {
	db  dbcore.IDatabase
	sql dbsql.ISql
}

// New 创建一个基于指定 IDatabase 的 Orm 适配器。
func New(db dbcore.IDatabase) orm.IOrm {
	return &Orm{
		db:  db,
		sql: dbsql.New(db),
	}
}

// Model 返回模型级操作入口。
func (o *Orm) Model(meta *orm.ModelMeta) orm.IModel {
	if meta == nil || meta.Table == "" {
		panic("basic.Orm: ModelMeta with table name is required")
	}
	return &model{orm: o, meta: meta}
}

// Begin 开启事务会话。
func (o *Orm) Begin(ctx context.Context) (orm.IOrmSession, error) {
	return o.BeginTx(ctx, nil)
}

// BeginTx 开启带选项的事务会话。
func (o *Orm) BeginTx(ctx context.Context, opts *sql.TxOptions) (orm.IOrmSession, error) {
	tx, err := o.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &session{
		Orm: New(tx).(*Orm),
		tx:  tx,
	}, nil
}

// Database 返回底层数据库抽象。
func (o *Orm) Database() dbcore.IDatabase { return o.db }

// Dialect 返回绑定数据库的方言。
func (o *Orm) Dialect() dialect.Dialect { return o.sql.Dialect() }

// session 实现 IOrmSession，委托给内部 Orm，并持有事务以便 Commit/Rollback。
type session struct {
	*Orm
	tx dbcore.ITransaction
}

// Commit 提交事务。
func (s *session) Commit() error {
	if s.tx == nil {
		return fmt.Errorf("basic.session: tx is nil")
	}
	return s.tx.Commit()
}

// Rollback 回滚事务。
func (s *session) Rollback() error {
	if s.tx == nil {
		return fmt.Errorf("basic.session: tx is nil")
	}
	return s.tx.Rollback()
}

// ------------------------------------------------------------------------
// model 实现 orm.IModel
// ------------------------------------------------------------------------

type model struct {
	orm  *Orm
	meta *orm.ModelMeta
}

func (m *model) Meta() *orm.ModelMeta { return m.meta }

func (m *model) quote(col string) string {
	return m.orm.Dialect().QuoteIdentifier(col)
}

// selectColumns 校验并转义投影列，未指定时返回全部列
func (m *model) selectColumns(requested []string) ([]string, []string, error) {
	cols := requested
	if len(cols) == 0 {
		cols = m.meta.Columns()
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if _, ok := m.meta.Field(c); !ok || !dbsql.IsSafeIdentifier(c) {
			return nil, nil, fmt.Errorf("%w: %s.%s", orm.ErrUnknownColumn, m.meta.Table, c)
		}
		quoted[i] = m.quote(c)
	}
	return cols, quoted, nil
}

func (m *model) orderByExpr(orders []orm.OrderBy) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if _, ok := m.meta.Field(o.Column); !ok || !dbsql.IsSafeIdentifier(o.Column) {
			return "", fmt.Errorf("%w: %s.%s", orm.ErrUnknownColumn, m.meta.Table, o.Column)
		}
		parts = append(parts, m.quote(o.Column)+m.orm.Dialect().OrderDirection(o.Desc))
	}
	return strings.Join(parts, ", "), nil
}

func (m *model) buildSelect(qo orm.QueryOptions, columns ...string) (dbsql.ISelectBuilder, error) {
	builder := m.orm.sql.Select(columns...).From(m.quote(m.meta.Table))
	for _, w := range qo.Where {
		builder = builder.Where(w.Expr, w.Args...)
	}
	order, err := m.orderByExpr(qo.OrderBy)
	if err != nil {
		return nil, err
	}
	builder = builder.OrderBy(order)
	if qo.Limit > 0 {
		builder = builder.Limit(qo.Limit)
	}
	if qo.Offset > 0 {
		builder = builder.Offset(qo.Offset)
	}
	if qo.ForUpdate {
		builder = builder.ForUpdate()
	}
	return builder, nil
}

// First 查询单条记录。
func (m *model) First(ctx context.Context, opts ...orm.QueryOption) (orm.Row, error) {
	qo := orm.CollectQueryOptions(opts...)
	if qo.Limit <= 0 {
		qo.Limit = 1
	}
	rows, err := m.find(ctx, qo)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, orm.ErrNotFound
	}
	return rows[0], nil
}

// Find 查询多条记录。
func (m *model) Find(ctx context.Context, opts ...orm.QueryOption) ([]orm.Row, error) {
	return m.find(ctx, orm.CollectQueryOptions(opts...))
}

func (m *model) find(ctx context.Context, qo orm.QueryOptions) ([]orm.Row, error) {
	cols, quoted, err := m.selectColumns(qo.Select)
	if err != nil {
		return nil, err
	}
	builder, err := m.buildSelect(qo, quoted...)
	if err != nil {
		return nil, err
	}

	rows, err := builder.Query(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []orm.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(orm.Row, len(cols))
		for i, c := range cols {
			f, _ := m.meta.Field(c)
			v, err := normalize(m.orm.Dialect(), f, raw[i])
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Count 统计数量（忽略 Select/OrderBy/分页，只做简单 COUNT(*)）。
func (m *model) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	qo := orm.CollectQueryOptions(opts...)
	builder, err := m.buildSelect(orm.QueryOptions{Where: qo.Where}, "COUNT(*)")
	if err != nil {
		return 0, err
	}
	var count int64
	if err := builder.QueryRow(ctx).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Create 插入记录（支持批量），列集合以第一行为准。
func (m *model) Create(ctx context.Context, rows ...orm.Row) error {
	if len(rows) == 0 {
		return nil
	}

	cols := make([]string, 0, len(rows[0]))
	for _, f := range m.meta.Fields {
		if _, ok := rows[0][f.Column]; ok {
			cols = append(cols, f.Column)
		}
	}
	if len(cols) != len(rows[0]) {
		for c := range rows[0] {
			if _, ok := m.meta.Field(c); !ok {
				return fmt.Errorf("%w: %s.%s", orm.ErrUnknownColumn, m.meta.Table, c)
			}
		}
	}

	builder := m.orm.sql.InsertInto(m.meta.Table).Columns(cols...)
	for _, row := range rows {
		vals := make([]any, len(cols))
		for i, c := range cols {
			f, _ := m.meta.Field(c)
			vals[i] = m.bind(f, row[c])
		}
		builder = builder.Values(vals...)
	}

	_, err := builder.Exec(ctx)
	return err
}

// UpdateValues 根据 values 与 QueryOptions 进行更新。
func (m *model) UpdateValues(ctx context.Context, values map[string]any, opts ...orm.QueryOption) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	qo := orm.CollectQueryOptions(opts...)
	if len(qo.Where) == 0 {
		return 0, fmt.Errorf("basic.Orm: update without where is not allowed")
	}

	bound := make(map[string]any, len(values))
	for c, v := range values {
		f, ok := m.meta.Field(c)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", orm.ErrUnknownColumn, m.meta.Table, c)
		}
		bound[c] = m.bind(f, v)
	}

	builder := m.orm.sql.Update(m.meta.Table).SetMap(bound)
	for _, w := range qo.Where {
		builder = builder.Where(w.Expr, w.Args...)
	}
	res, err := builder.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// bind 将写入值转换为驱动参数
func (m *model) bind(f orm.FieldMeta, v any) any {
	return BindValue(m.orm.Dialect(), f.Kind, v)
}

// ------------------------------------------------------------------------
// 值转换
// ------------------------------------------------------------------------

// BindValue 将 Go 值转换为方言可接受的参数，供条件参数与写入共用。
func BindValue(d dialect.Dialect, kind orm.Kind, v any) any {
	if v == nil {
		return nil
	}
	if t, ok := v.(time.Time); ok && kind == orm.KindTime {
		return d.TimeValue(t)
	}
	return v
}

// normalize 将驱动返回值归一化为 orm.Kind 对应的 Go 类型
func normalize(d dialect.Dialect, f orm.FieldMeta, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch f.Kind {
	case orm.KindTime:
		t, ok := d.ParseTime(v)
		if !ok {
			return nil, fmt.Errorf("basic.Orm: column %s: cannot parse time %v", f.Column, v)
		}
		return t, nil
	case orm.KindBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case int64:
			return val != 0, nil
		case string:
			return strconv.ParseBool(val)
		}
	case orm.KindInt:
		switch val := v.(type) {
		case int64:
			return val, nil
		case float64:
			return int64(val), nil
		case string:
			return strconv.ParseInt(val, 10, 64)
		}
	case orm.KindFloat:
		switch val := v.(type) {
		case float64:
			return val, nil
		case int64:
			return float64(val), nil
		case string:
			return strconv.ParseFloat(val, 64)
		}
	case orm.KindString:
		switch val := v.(type) {
		case string:
			return val, nil
		default:
			return fmt.Sprint(val), nil
		}
	}
	return nil, fmt.Errorf("basic.Orm: column %s: unexpected value type %T", f.Column, v)
}
