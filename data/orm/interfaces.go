package orm

import (
	"context"
	"database/sql"

	"crmkit/data/db"
	"crmkit/data/db/dialect"
)

// Row 以物理列名为键的一行数据
type Row map[string]any

// IOrm 表示 ORM 适配器入口。
type IOrm interface {
	// Model 返回指定模型的操作入口。
	Model(meta *ModelMeta) IModel
	// Begin 开启事务会话。
	Begin(ctx context.Context) (IOrmSession, error)
	// BeginTx 开启带选项的事务会话。
	BeginTx(ctx context.Context, opts *sql.TxOptions) (IOrmSession, error)
	// Database 返回适配器绑定的通用数据库。
	Database() db.IDatabase
	// Dialect 返回绑定数据库的方言，调用方用它转义 WithWhere 中的标识符。
	Dialect() dialect.Dialect
}

// IOrmSession 表示事务会话。
type IOrmSession interface {
	IOrm
	Commit() error
	Rollback() error
}

// IModel 封装模型级别的基础操作。
//
// 读出的值按 FieldMeta.Kind 归一化为 string、int64、float64、bool、time.Time 或 nil；
// 写入时 KindTime 列按方言转换。
type IModel interface {
	Meta() *ModelMeta

	// First 查询单条记录，不存在时返回 ErrNotFound。
	First(ctx context.Context, opts ...QueryOption) (Row, error)
	Find(ctx context.Context, opts ...QueryOption) ([]Row, error)
	Count(ctx context.Context, opts ...QueryOption) (int64, error)

	Create(ctx context.Context, rows ...Row) error
	// UpdateValues 根据条件更新，返回受影响行数；必须带条件。
	UpdateValues(ctx context.Context, values map[string]any, opts ...QueryOption) (int64, error)
}
