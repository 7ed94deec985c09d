package repo

import (
	"strings"
	"time"

	"crmkit/data/db/dialect"
	"crmkit/data/orm"
	"crmkit/domain/entity"
	"crmkit/domain/query"
)

// queryBuilder 累积 orm.QueryOption
type queryBuilder struct {
	d    dialect.Dialect
	opts []orm.QueryOption
}

func newQueryBuilder(d dialect.Dialect) *queryBuilder {
	return &queryBuilder{d: d}
}

func (q *queryBuilder) Where(expr string, args ...any) *queryBuilder {
	for i, a := range args {
		args[i] = q.arg(a)
	}
	q.opts = append(q.opts, orm.WithWhere(expr, args...))
	return q
}

func (q *queryBuilder) Order(column string, desc bool) *queryBuilder {
	q.opts = append(q.opts, orm.WithOrderBy(column, desc))
	return q
}

func (q *queryBuilder) Limit(limit int) *queryBuilder {
	q.opts = append(q.opts, orm.WithLimit(limit))
	return q
}

func (q *queryBuilder) Offset(offset int) *queryBuilder {
	q.opts = append(q.opts, orm.WithOffset(offset))
	return q
}

func (q *queryBuilder) Select(columns ...string) *queryBuilder {
	q.opts = append(q.opts, orm.WithSelect(columns...))
	return q
}

func (q *queryBuilder) ForUpdate() *queryBuilder {
	q.opts = append(q.opts, orm.WithForUpdate())
	return q
}

func (q *queryBuilder) Options() []orm.QueryOption { return q.opts }

// arg 将条件参数转换为方言可比较的形式
func (q *queryBuilder) arg(v any) any {
	if t, ok := v.(time.Time); ok {
		return q.d.TimeValue(t)
	}
	return v
}

func (q *queryBuilder) col(c entity.Column) string {
	return q.d.QuoteIdentifier(c.Column)
}

// Condition 渲染编译后的条件：作用域、谓词（AND）、搜索（列间 OR）、排序
func (q *queryBuilder) Condition(cond *query.Condition) *queryBuilder {
	q.Where(q.col(cond.Entity.LifecycleColumn())+" = ?", cond.WantDeleted())
	for _, p := range cond.Predicates {
		q.predicate(p)
	}
	if cond.Search != nil {
		exprs := make([]string, len(cond.Search.Columns))
		args := make([]any, len(cond.Search.Columns))
		for i, c := range cond.Search.Columns {
			exprs[i] = q.d.ContainsExpr(q.col(c))
			args[i] = q.d.LikePattern(cond.Search.Term)
		}
		q.Where("("+strings.Join(exprs, " OR ")+")", args...)
	}
	return q
}

// Orders 渲染排序
func (q *queryBuilder) Orders(cond *query.Condition) *queryBuilder {
	for _, o := range cond.Orders {
		q.Order(o.Column.Column, o.Desc)
	}
	return q
}

func (q *queryBuilder) predicate(p query.Predicate) {
	col := q.col(p.Column)
	switch p.Operator {
	case query.OpEq:
		q.Where(col+" = ?", p.Value)
	case query.OpGt:
		q.Where(col+" > ?", p.Value)
	case query.OpLt:
		q.Where(col+" < ?", p.Value)
	case query.OpGte:
		q.Where(col+" >= ?", p.Value)
	case query.OpLte:
		q.Where(col+" <= ?", p.Value)
	case query.OpContains:
		term, _ := p.Value.(string)
		q.Where(q.d.ContainsExpr(col), q.d.LikePattern(term))
	case query.OpIn, query.OpNotIn:
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(p.Values)), ", ")
		op := " IN ("
		if p.Operator == query.OpNotIn {
			op = " NOT IN ("
		}
		args := make([]any, len(p.Values))
		copy(args, p.Values)
		q.Where(col+op+marks+")", args...)
	case query.OpIsNull:
		q.Where(col + " IS NULL")
	case query.OpIsNotNull:
		q.Where(col + " IS NOT NULL")
	}
}
