package entity

import (
	"fmt"
	"sort"

	dbsql "crmkit/data/db/sql"
	"crmkit/errors"
)

// Registry 实体注册表，构造后只读，可并发使用
type Registry struct {
	byName map[Name]*Descriptor
}

// NewRegistry 校验并注册实体描述
//
// 每个描述会被补全：id 列置首，系统列与 isDeleted 追加在末尾，缺省表头由字段名推导，
// 缺省排序为 createdAt 降序。物理表名/列名必须是安全标识符。
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[Name]*Descriptor, len(descs))}
	for _, d := range descs {
		built, err := build(d)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byName[built.Name]; dup {
			return nil, fmt.Errorf("entity: duplicate entity %q", built.Name)
		}
		r.byName[built.Name] = built
	}
	return r, nil
}

func build(in Descriptor) (*Descriptor, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("entity: descriptor without name")
	}
	table := in.Table
	if table == "" {
		table = string(in.Name)
	}
	if !dbsql.IsSafeIdentifier(table) {
		return nil, fmt.Errorf("entity %s: unsafe table name %q", in.Name, table)
	}

	cols := make([]Column, 0, len(in.Columns)+6)
	cols = append(cols, Column{Field: FieldID, Column: "id", Type: TypeInt, ReadOnly: true})
	for _, c := range in.Columns {
		if c.lifecycle || isSystemField(c.Field) {
			return nil, fmt.Errorf("entity %s: field %q is reserved", in.Name, c.Field)
		}
		cols = append(cols, c)
	}
	cols = append(cols, systemColumns()...)

	d := &Descriptor{
		Name:        in.Name,
		Table:       table,
		Columns:     cols,
		DefaultSort: in.DefaultSort,
		DefaultDesc: in.DefaultDesc,
		Risk:        in.Risk,
		byField:     make(map[string]int, len(cols)),
	}
	if d.DefaultSort == "" {
		d.DefaultSort = FieldCreatedAt
		d.DefaultDesc = true
	}
	if d.Risk.Threshold <= 0 {
		d.Risk.Threshold = DefaultRiskThreshold
	}

	physical := make(map[string]bool, len(cols))
	for i := range d.Columns {
		c := &d.Columns[i]
		if c.Field == "" {
			return nil, fmt.Errorf("entity %s: column without field name", in.Name)
		}
		if !dbsql.IsSafeIdentifier(c.Column) {
			return nil, fmt.Errorf("entity %s: unsafe column name %q", in.Name, c.Column)
		}
		if _, dup := d.byField[c.Field]; dup {
			return nil, fmt.Errorf("entity %s: duplicate field %q", in.Name, c.Field)
		}
		if physical[c.Column] {
			return nil, fmt.Errorf("entity %s: duplicate column %q", in.Name, c.Column)
		}
		physical[c.Column] = true
		if c.Label == "" {
			c.Label = DeriveLabel(c.Field)
		}
		d.byField[c.Field] = i
	}

	if _, ok := d.Addressable(d.DefaultSort); !ok {
		return nil, fmt.Errorf("entity %s: unknown default sort field %q", in.Name, d.DefaultSort)
	}
	if err := checkRiskFields(d, d.Risk); err != nil {
		return nil, err
	}
	return d, nil
}

func isSystemField(field string) bool {
	switch field {
	case FieldID, FieldIsDeleted, FieldCreatedBy, FieldUpdatedBy, FieldCreatedAt, FieldUpdatedAt:
		return true
	}
	return false
}

func checkRiskFields(d *Descriptor, p RiskPolicy) error {
	for _, set := range [][]string{p.Critical, p.High} {
		for _, f := range set {
			if _, ok := d.Column(f); !ok {
				return fmt.Errorf("entity %s: risk policy references unknown field %q", d.Name, f)
			}
		}
	}
	return nil
}

// Lookup 按名称查找实体，未知名称返回 unknown_entity 校验错误
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	d, ok := r.byName[Name(name)]
	if !ok {
		return nil, errors.NewFieldError(errors.KindUnknownEntity, "", fmt.Sprintf("unknown entity %q", name))
	}
	return d, nil
}

// MustLookup 查找内置实体，不存在时 panic（仅用于常量名）
func (r *Registry) MustLookup(name Name) *Descriptor {
	d, err := r.Lookup(string(name))
	if err != nil {
		panic(err)
	}
	return d
}

// Names 返回已注册实体名（排序）
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Descriptors 返回全部实体描述（按名称排序）
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.byName))
	for _, n := range r.Names() {
		out = append(out, r.byName[n])
	}
	return out
}

// WithRiskPolicies 返回覆盖了风险配置的新注册表，原注册表不变
//
// 未出现在 policies 中的实体保留原配置；Threshold 为 0 时沿用原阈值。
func (r *Registry) WithRiskPolicies(policies map[Name]RiskPolicy) (*Registry, error) {
	out := &Registry{byName: make(map[Name]*Descriptor, len(r.byName))}
	for n, d := range r.byName {
		out.byName[n] = d
	}
	for n, p := range policies {
		d, ok := r.byName[n]
		if !ok {
			return nil, fmt.Errorf("entity: risk policy for unknown entity %q", n)
		}
		if err := checkRiskFields(d, p); err != nil {
			return nil, err
		}
		cp := *d
		if p.Threshold <= 0 {
			p.Threshold = d.Risk.Threshold
		}
		cp.Risk = p
		out.byName[n] = &cp
	}
	return out, nil
}
