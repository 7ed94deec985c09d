package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"crmkit/cache"
	"crmkit/domain/entity"
	"crmkit/errors"
)

// Compiler 将过滤/排序/搜索描述编译为 Condition
type Compiler struct {
	registry *entity.Registry
	cache    *cache.Cache[string, *Condition]
}

// Option 编译器选项
type Option func(*Compiler)

// WithCache 以输入的规范 JSON 为键记忆化编译结果
func WithCache(c *cache.Cache[string, *Condition]) Option {
	return func(cp *Compiler) { cp.cache = c }
}

// NewCompiler 创建编译器
func NewCompiler(registry *entity.Registry, opts ...Option) *Compiler {
	c := &Compiler{registry: registry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry 返回编译器使用的实体注册表
func (c *Compiler) Registry() *entity.Registry { return c.registry }

// Compile 以默认作用域（仅未删除记录）编译查询条件
func (c *Compiler) Compile(entityName string, filters []Filter, sorts []Sort, search string) (*Condition, error) {
	return c.compileCached(input{Entity: entityName, Filters: filters, Sorts: sorts, Search: search, Scope: ScopeActive})
}

// CompileDescriptor 编译完整查询描述（包括作用域），分页与投影由执行器处理
func (c *Compiler) CompileDescriptor(entityName string, d Descriptor) (*Condition, error) {
	return c.compileCached(input{Entity: entityName, Filters: d.Filters, Sorts: d.Sorts, Search: d.Search, Scope: d.Scope})
}

// input 编译输入，同时作为缓存键的规范形式
type input struct {
	Entity  string   `json:"entity"`
	Filters []Filter `json:"filters"`
	Sorts   []Sort   `json:"sorts"`
	Search  string   `json:"search"`
	Scope   Scope    `json:"scope"`
}

func (c *Compiler) compileCached(in input) (*Condition, error) {
	if c.cache == nil {
		return c.compile(in)
	}
	key, err := json.Marshal(in)
	if err != nil {
		// 无法序列化的过滤值不进入缓存，交给 compile 报告
		return c.compile(in)
	}
	return c.cache.GetOrLoad(string(key), func() (*Condition, error) { return c.compile(in) })
}

func (c *Compiler) compile(in input) (*Condition, error) {
	desc, err := c.registry.Lookup(in.Entity)
	if err != nil {
		return nil, err
	}

	scope := in.Scope
	switch scope {
	case "":
		scope = ScopeActive
	case ScopeActive, ScopeDeleted:
	default:
		return nil, errors.NewFieldError(errors.KindMalformed, "scope", fmt.Sprintf("unknown scope %q", in.Scope))
	}

	cond := &Condition{Entity: desc, Scope: scope}
	for _, f := range in.Filters {
		p, err := compileFilter(desc, f)
		if err != nil {
			return nil, err
		}
		cond.Predicates = append(cond.Predicates, p)
	}

	cond.Search = compileSearch(desc, in.Search)

	orders, err := compileSorts(desc, in.Sorts)
	if err != nil {
		return nil, err
	}
	cond.Orders = orders
	return cond, nil
}

func compileFilter(desc *entity.Descriptor, f Filter) (Predicate, error) {
	col, ok := desc.Addressable(f.Field)
	if !ok {
		return Predicate{}, errors.NewFieldError(errors.KindUnknownField, f.Field,
			fmt.Sprintf("unknown field %q for %s", f.Field, desc.Name))
	}
	p := Predicate{Column: col, Operator: f.Operator}

	switch f.Operator {
	case OpIsNull, OpIsNotNull:
		return p, nil

	case OpContains:
		if col.Type != entity.TypeString {
			return Predicate{}, unsupported(f, col)
		}
		term, err := col.Coerce(f.Value)
		if err != nil || term == nil || term.(string) == "" {
			return Predicate{}, malformed(f, "contains requires a non-empty string")
		}
		p.Value = term
		return p, nil

	case OpEq, OpGt, OpLt, OpGte, OpLte:
		if col.Type == entity.TypeBool && f.Operator != OpEq {
			return Predicate{}, unsupported(f, col)
		}
		v, err := col.Coerce(f.Value)
		if err != nil {
			return Predicate{}, malformed(f, err.Error())
		}
		if v == nil {
			return Predicate{}, malformed(f, "value is required, use is_null to match missing values")
		}
		p.Value = v
		return p, nil

	case OpIn, OpNotIn:
		raw := valueList(f.Value)
		if len(raw) == 0 {
			return Predicate{}, malformed(f, string(f.Operator)+" requires a non-empty list")
		}
		p.Values = make([]any, 0, len(raw))
		for _, item := range raw {
			v, err := col.Coerce(item)
			if err != nil {
				return Predicate{}, malformed(f, err.Error())
			}
			if v == nil {
				return Predicate{}, malformed(f, "list must not contain null")
			}
			p.Values = append(p.Values, v)
		}
		return p, nil
	}

	return Predicate{}, errors.NewFieldError(errors.KindUnsupportedOperator, f.Field,
		fmt.Sprintf("unsupported operator %q", f.Operator))
}

// valueList 接受切片；非切片的单值（包括含逗号的字符串）视为一个元素
func valueList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func compileSearch(desc *entity.Descriptor, search string) *Search {
	term := strings.ToLower(norm.NFC.String(strings.TrimSpace(search)))
	cols := desc.Searchable()
	if term == "" || len(cols) == 0 {
		return nil
	}
	return &Search{Columns: cols, Term: term}
}

func compileSorts(desc *entity.Descriptor, sorts []Sort) ([]Order, error) {
	ordered := make([]Sort, len(sorts))
	copy(ordered, sorts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	seen := make(map[string]bool, len(ordered)+1)
	var orders []Order
	for _, s := range ordered {
		col, ok := desc.Addressable(s.Field)
		if !ok {
			return nil, errors.NewFieldError(errors.KindUnknownField, s.Field,
				fmt.Sprintf("unknown sort field %q for %s", s.Field, desc.Name))
		}
		var dsc bool
		switch strings.ToLower(string(s.Direction)) {
		case "", string(Asc):
		case string(Desc):
			dsc = true
		default:
			return nil, errors.NewFieldError(errors.KindMalformed, s.Field,
				fmt.Sprintf("unknown sort direction %q", s.Direction))
		}
		if seen[col.Field] {
			continue
		}
		seen[col.Field] = true
		orders = append(orders, Order{Column: col, Desc: dsc})
	}

	if len(orders) == 0 {
		col, _ := desc.Addressable(desc.DefaultSort)
		orders = append(orders, Order{Column: col, Desc: desc.DefaultDesc})
		seen[col.Field] = true
	}
	if !seen[entity.FieldID] {
		id, _ := desc.Column(entity.FieldID)
		orders = append(orders, Order{Column: id})
	}
	return orders, nil
}

func unsupported(f Filter, col entity.Column) error {
	return errors.NewFieldError(errors.KindUnsupportedOperator, f.Field,
		fmt.Sprintf("operator %q is not supported on %s column %q", f.Operator, col.Type, f.Field))
}

func malformed(f Filter, reason string) error {
	return errors.NewFieldError(errors.KindMalformed, f.Field,
		fmt.Sprintf("malformed %s filter on %q: %s", f.Operator, f.Field, reason))
}
