package orm

// Condition 单个 WHERE 片段，Expr 使用 ? 占位符，列名已由调用方转义
type Condition struct {
	Expr string
	Args []any
}

// OrderBy 排序列（物理列名，由适配器校验并转义）
type OrderBy struct {
	Column string
	Desc   bool
}

// QueryOptions 一次查询或更新的选项集合
type QueryOptions struct {
	Where     []Condition
	OrderBy   []OrderBy
	Limit     int
	Offset    int
	Select    []string
	ForUpdate bool
}

// QueryOption 修改 QueryOptions
type QueryOption func(*QueryOptions)

// WithWhere 追加条件，空表达式忽略；多个条件之间为 AND
func WithWhere(expr string, args ...any) QueryOption {
	return func(o *QueryOptions) {
		if expr != "" {
			o.Where = append(o.Where, Condition{Expr: expr, Args: args})
		}
	}
}

// WithOrderBy 追加排序项，先追加者优先
func WithOrderBy(column string, desc bool) QueryOption {
	return func(o *QueryOptions) {
		if column != "" {
			o.OrderBy = append(o.OrderBy, OrderBy{Column: column, Desc: desc})
		}
	}
}

// WithLimit 非正数表示不限
func WithLimit(n int) QueryOption {
	return func(o *QueryOptions) {
		if n > 0 {
			o.Limit = n
		}
	}
}

func WithOffset(n int) QueryOption {
	return func(o *QueryOptions) {
		if n > 0 {
			o.Offset = n
		}
	}
}

// WithSelect 投影列，未指定时适配器返回元数据中的全部列
func WithSelect(columns ...string) QueryOption {
	return func(o *QueryOptions) {
		o.Select = append(o.Select, columns...)
	}
}

// WithForUpdate 在支持行锁的方言上锁定读取的行
func WithForUpdate() QueryOption {
	return func(o *QueryOptions) { o.ForUpdate = true }
}

// CollectQueryOptions 依次应用选项，nil 选项跳过
func CollectQueryOptions(options ...QueryOption) QueryOptions {
	var o QueryOptions
	for _, opt := range options {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
