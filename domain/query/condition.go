package query

import (
	"fmt"
	"strings"
	"time"

	"crmkit/domain/entity"
)

// Predicate 单个类型化谓词，Value/Values 已转换为列类型
type Predicate struct {
	Column   entity.Column
	Operator Operator
	Value    any
	Values   []any
}

// Search 跨可搜索列的大小写不敏感子串匹配（列之间为 OR）
type Search struct {
	Columns []entity.Column
	// Term 已做 NFC 规范化并转为小写
	Term string
}

// Order 单个排序项
type Order struct {
	Column entity.Column
	Desc   bool
}

// Condition 编译后的查询条件。
//
// 谓词之间为 AND，搜索与谓词合取为 AND，生命周期作用域总是生效。
// Condition 可能被编译缓存共享，构造后只读。
type Condition struct {
	Entity     *entity.Descriptor
	Predicates []Predicate
	Search     *Search
	Scope      Scope
	Orders     []Order
}

// WantDeleted 作用域要求的 isDeleted 取值
func (c *Condition) WantDeleted() bool { return c.Scope == ScopeDeleted }

// Match 在内存中对记录求值，语义与 SQL 渲染一致：NULL 与任何值比较均不成立
func (c *Condition) Match(rec entity.Record) bool {
	if rec.IsDeleted() != c.WantDeleted() {
		return false
	}
	for _, p := range c.Predicates {
		if !p.Match(rec) {
			return false
		}
	}
	if c.Search != nil && !c.Search.Match(rec) {
		return false
	}
	return true
}

// Compare 按 Orders 比较两条记录，返回 -1/0/1。NULL 视为最小值。
func (c *Condition) Compare(a, b entity.Record) int {
	for _, o := range c.Orders {
		r := CompareValues(a[o.Column.Field], b[o.Column.Field])
		if r == 0 {
			continue
		}
		if o.Desc {
			return -r
		}
		return r
	}
	return 0
}

// Match 对单条记录求值
func (p Predicate) Match(rec entity.Record) bool {
	v := rec[p.Column.Field]
	switch p.Operator {
	case OpIsNull:
		return v == nil
	case OpIsNotNull:
		return v != nil
	}
	if v == nil {
		return false
	}

	switch p.Operator {
	case OpEq:
		return CompareValues(v, p.Value) == 0
	case OpGt:
		return CompareValues(v, p.Value) > 0
	case OpLt:
		return CompareValues(v, p.Value) < 0
	case OpGte:
		return CompareValues(v, p.Value) >= 0
	case OpLte:
		return CompareValues(v, p.Value) <= 0
	case OpContains:
		term, _ := p.Value.(string)
		return strings.Contains(strings.ToLower(text(v)), strings.ToLower(term))
	case OpIn:
		return containsValue(p.Values, v)
	case OpNotIn:
		return !containsValue(p.Values, v)
	}
	return false
}

// Match 任一可搜索列包含搜索词即命中
func (s *Search) Match(rec entity.Record) bool {
	for _, c := range s.Columns {
		v := rec[c.Field]
		if v == nil {
			continue
		}
		if strings.Contains(strings.ToLower(text(v)), s.Term) {
			return true
		}
	}
	return false
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if CompareValues(v, candidate) == 0 {
			return true
		}
	}
	return false
}

// CompareValues 比较两个归一化值。
//
// nil 小于任何非 nil 值；int64 与 float64 按数值比较；
// 其余不同类型按文本比较。
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y)
		case float64:
			return cmpOrdered(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y)
		case int64:
			return cmpOrdered(x, float64(y))
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return cmpOrdered(text(a), text(b))
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
