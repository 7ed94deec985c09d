package crud

import "crmkit/domain/query"

// FilterBuilder 以显式方法构造查询过滤条件，避免调用方手写操作符字符串。
//
// 字段名为空的条件被忽略；字段与值的合法性由 query.Compiler 在编译时校验。
type FilterBuilder struct {
	filters []query.Filter
}

// NewFilterBuilder 创建新的过滤构建器。
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{}
}

func (b *FilterBuilder) add(field string, op query.Operator, value any) *FilterBuilder {
	if field == "" {
		return b
	}
	b.filters = append(b.filters, query.Filter{Field: field, Operator: op, Value: value})
	return b
}

// Where 按操作符追加条件，操作符是否受支持由编译器判定
func (b *FilterBuilder) Where(field string, op query.Operator, value any) *FilterBuilder {
	return b.add(field, op, value)
}

// Eq 等值匹配：field = value
func (b *FilterBuilder) Eq(field string, value any) *FilterBuilder {
	return b.add(field, query.OpEq, value)
}

// Contains 子串匹配（忽略大小写）
func (b *FilterBuilder) Contains(field string, value string) *FilterBuilder {
	return b.add(field, query.OpContains, value)
}

// Gt 大于
func (b *FilterBuilder) Gt(field string, value any) *FilterBuilder {
	return b.add(field, query.OpGt, value)
}

// Gte 大于等于
func (b *FilterBuilder) Gte(field string, value any) *FilterBuilder {
	return b.add(field, query.OpGte, value)
}

// Lt 小于
func (b *FilterBuilder) Lt(field string, value any) *FilterBuilder {
	return b.add(field, query.OpLt, value)
}

// Lte 小于等于
func (b *FilterBuilder) Lte(field string, value any) *FilterBuilder {
	return b.add(field, query.OpLte, value)
}

// In IN 列表，空列表保留给编译器拒绝
func (b *FilterBuilder) In(field string, values ...any) *FilterBuilder {
	return b.add(field, query.OpIn, values)
}

// NotIn NOT IN 列表
func (b *FilterBuilder) NotIn(field string, values ...any) *FilterBuilder {
	return b.add(field, query.OpNotIn, values)
}

// IsNull 字段为空
func (b *FilterBuilder) IsNull(field string) *FilterBuilder {
	return b.add(field, query.OpIsNull, nil)
}

// IsNotNull 字段非空
func (b *FilterBuilder) IsNotNull(field string) *FilterBuilder {
	return b.add(field, query.OpIsNotNull, nil)
}

// Build 返回构建结果的副本
func (b *FilterBuilder) Build() []query.Filter {
	if len(b.filters) == 0 {
		return nil
	}
	out := make([]query.Filter, len(b.filters))
	copy(out, b.filters)
	return out
}

// Apply 将过滤条件追加到查询描述中
func (b *FilterBuilder) Apply(d *query.Descriptor) {
	if d == nil {
		return
	}
	d.Filters = append(d.Filters, b.filters...)
}
