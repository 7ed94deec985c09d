// Package entity 定义可查询实体的注册表：逻辑字段到物理列的映射、列类型、风险字段集合。
//
// 设计原则：
// 1. 实体名为封闭枚举，未知名称在边界处拒绝
// 2. 物理标识符只来自注册表，构造时校验
// 3. 记录以逻辑字段名为键，值归一化为 string/int64/float64/bool/time.Time/nil
package entity

import (
	"time"
)

// Name 受支持的实体名
type Name string

const (
	Leads         Name = "leads"
	Contacts      Name = "contacts"
	Accounts      Name = "accounts"
	Opportunities Name = "opportunities"
	Tickets       Name = "tickets"
	ServiceOrders Name = "service_orders"
)

// ColumnType 列的逻辑类型
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	default:
		return "unknown"
	}
}

// 系统字段（逻辑名）
const (
	FieldID        = "id"
	FieldIsDeleted = "isDeleted"
	FieldCreatedBy = "createdBy"
	FieldUpdatedBy = "updatedBy"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Column 逻辑字段与物理列的映射
type Column struct {
	Field      string // 逻辑名（camelCase）
	Column     string // 物理列名（snake_case）
	Label      string // 导出表头，为空时由 Field 推导
	Type       ColumnType
	Searchable bool
	Required   bool
	MaxLength  int
	ReadOnly   bool

	// lifecycle 为 true 的列（isDeleted）只由生命周期作用域控制，调用方不可过滤/排序/投影
	lifecycle bool
}

// IsLifecycle 是否为软删除标记列
func (c Column) IsLifecycle() bool { return c.lifecycle }

// Record 以逻辑字段名为键的一条实体记录
type Record map[string]any

// ID 返回记录主键，缺失时返回 0
func (r Record) ID() int64 {
	id, _ := r[FieldID].(int64)
	return id
}

// IsDeleted 返回软删除标记
func (r Record) IsDeleted() bool {
	deleted, _ := r[FieldIsDeleted].(bool)
	return deleted
}

// Clone 浅拷贝记录（值均为不可变标量）
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Project 仅保留指定字段
func (r Record) Project(cols []Column) Record {
	out := make(Record, len(cols))
	for _, c := range cols {
		out[c.Field] = r[c.Field]
	}
	return out
}

// RiskPolicy 更新操作的风险字段配置
type RiskPolicy struct {
	Critical  []string `yaml:"critical" json:"critical"`
	High      []string `yaml:"high" json:"high"`
	Threshold int      `yaml:"threshold" json:"threshold"`
}

// DefaultRiskThreshold 变更字段数超过该值时判定为 medium
const DefaultRiskThreshold = 3

// Descriptor 实体描述
type Descriptor struct {
	Name        Name
	Table       string
	Columns     []Column
	DefaultSort string
	DefaultDesc bool
	Risk        RiskPolicy

	byField map[string]int
}

// Column 按逻辑名查找列（包括系统列与 isDeleted）
func (d *Descriptor) Column(field string) (Column, bool) {
	i, ok := d.byField[field]
	if !ok {
		return Column{}, false
	}
	return d.Columns[i], true
}

// Addressable 按逻辑名查找调用方可引用的列（过滤/排序/投影），排除 isDeleted
func (d *Descriptor) Addressable(field string) (Column, bool) {
	c, ok := d.Column(field)
	if !ok || c.lifecycle {
		return Column{}, false
	}
	return c, true
}

// Visible 返回可见列（声明顺序，排除 isDeleted）
func (d *Descriptor) Visible() []Column {
	out := make([]Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		if !c.lifecycle {
			out = append(out, c)
		}
	}
	return out
}

// Searchable 返回参与全文搜索的列
func (d *Descriptor) Searchable() []Column {
	var out []Column
	for _, c := range d.Columns {
		if c.Searchable {
			out = append(out, c)
		}
	}
	return out
}

// Writable 返回调用方可写入的业务列
func (d *Descriptor) Writable() []Column {
	var out []Column
	for _, c := range d.Columns {
		if !c.ReadOnly && !c.lifecycle {
			out = append(out, c)
		}
	}
	return out
}

// LifecycleColumn 返回 isDeleted 列
func (d *Descriptor) LifecycleColumn() Column {
	c, _ := d.Column(FieldIsDeleted)
	return c
}

func systemColumns() []Column {
	return []Column{
		{Field: FieldIsDeleted, Column: "is_deleted", Type: TypeBool, ReadOnly: true, lifecycle: true},
		{Field: FieldCreatedBy, Column: "created_by", Type: TypeString, ReadOnly: true},
		{Field: FieldUpdatedBy, Column: "updated_by", Type: TypeString, ReadOnly: true},
		{Field: FieldCreatedAt, Column: "created_at", Type: TypeTime, ReadOnly: true},
		{Field: FieldUpdatedAt, Column: "updated_at", Type: TypeTime, ReadOnly: true},
	}
}

// Stamp 写入创建/更新者与时间
func Stamp(r Record, by string, at time.Time, creating bool) {
	if creating {
		r[FieldCreatedBy] = by
		r[FieldCreatedAt] = at
	}
	r[FieldUpdatedBy] = by
	r[FieldUpdatedAt] = at
}
