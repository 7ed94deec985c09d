// Package query 将声明式查询描述编译为类型化的条件（谓词、搜索、排序、生命周期作用域）。
//
// 编译是纯函数：字段只能引用注册表中的列，值在编译期转换为列类型，
// 存储后端据此生成参数化语句或在内存中求值。
package query

// Operator 过滤操作符
type Operator string

const (
	OpEq        Operator = "eq"
	OpContains  Operator = "contains"
	OpGt        Operator = "gt"
	OpLt        Operator = "lt"
	OpGte       Operator = "gte"
	OpLte       Operator = "lte"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpIsNull    Operator = "is_null"
	OpIsNotNull Operator = "is_not_null"
)

// Direction 排序方向
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Scope 生命周期作用域
type Scope string

const (
	// ScopeActive 仅未删除记录（默认）
	ScopeActive Scope = "active"
	// ScopeDeleted 仅已删除记录（可恢复列表）
	ScopeDeleted Scope = "deleted"
)

// Filter 单个过滤条件
type Filter struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	// Value 对 in/not_in 应为切片；单个值按一个元素处理，字符串不会按逗号拆分
	Value any `json:"value,omitempty" yaml:"value,omitempty"`
}

// Sort 单个排序条件，Priority 越小越先应用
type Sort struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction" yaml:"direction"`
	Priority  int       `json:"priority" yaml:"priority"`
}

// Descriptor 查询描述
type Descriptor struct {
	Page     int      `json:"page" yaml:"page"`
	PageSize int      `json:"pageSize" yaml:"pageSize"`
	Sorts    []Sort   `json:"sorts,omitempty" yaml:"sorts,omitempty"`
	Filters  []Filter `json:"filters,omitempty" yaml:"filters,omitempty"`
	Search   string   `json:"search,omitempty" yaml:"search,omitempty"`
	Columns  []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Export   bool     `json:"export,omitempty" yaml:"export,omitempty"`
	Scope    Scope    `json:"scope,omitempty" yaml:"scope,omitempty"`
}
