package repo

import (
	"context"
	stdErrors "errors"
	"fmt"

	"crmkit/data/orm"
	"crmkit/domain/entity"
	"crmkit/domain/query"
)

// ErrNotFound 记录不存在
var ErrNotFound = stdErrors.New("repo: record not found")

// Get 按 ID 读取完整记录（包括已删除的）；lock 为 true 时在支持的方言上加行锁
func (r *Repo) Get(ctx context.Context, id int64, lock bool) (entity.Record, error) {
	idCol, _ := r.desc.Column(entity.FieldID)
	q := newQueryBuilder(r.orm.Dialect()).Where(r.orm.Dialect().QuoteIdentifier(idCol.Column)+" = ?", id)
	if lock {
		q.ForUpdate()
	}
	row, err := r.model().First(ctx, q.Options()...)
	if err != nil {
		if stdErrors.Is(err, orm.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.toRecord(row), nil
}

// Find 按条件读取记录，cols 为空时返回全部列
func (r *Repo) Find(ctx context.Context, cond *query.Condition, cols []entity.Column, offset, limit int) ([]entity.Record, error) {
	q := newQueryBuilder(r.orm.Dialect()).Condition(cond).Orders(cond)
	if len(cols) > 0 {
		physical := make([]string, len(cols))
		for i, c := range cols {
			physical[i] = c.Column
		}
		q.Select(physical...)
	}
	q.Offset(offset).Limit(limit)

	rows, err := r.model().Find(ctx, q.Options()...)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Record, len(rows))
	for i, row := range rows {
		out[i] = r.toRecord(row)
	}
	return out, nil
}

// Count 按条件计数（忽略排序与分页）
func (r *Repo) Count(ctx context.Context, cond *query.Condition) (int64, error) {
	q := newQueryBuilder(r.orm.Dialect()).Condition(cond)
	return r.model().Count(ctx, q.Options()...)
}

// Probe 读取至多一行全列数据，用于校验表结构可访问
func (r *Repo) Probe(ctx context.Context) error {
	_, err := r.model().Find(ctx, orm.WithLimit(1))
	if err != nil {
		return fmt.Errorf("probe %s: %w", r.desc.Table, err)
	}
	return nil
}
