// Package storage 定义查询执行器与变更编排器共用的存储契约。
//
// 持久化实现（sqlstore）与临时内存实现（memstore）满足同一接口，
// 由 selector 在启动时择一绑定，上层组件不感知具体后端。
package storage

import (
	"context"
	stdErrors "errors"

	"crmkit/domain/audited"
	"crmkit/domain/entity"
	"crmkit/domain/query"
)

// Kind 后端类型
type Kind string

const (
	KindDurable   Kind = "durable"
	KindEphemeral Kind = "ephemeral"
)

// ErrNotFound 按 ID 读取时记录不存在（不区分删除状态，由调用方判断）
var ErrNotFound = stdErrors.New("storage: record not found")

// Window 分页窗口，Limit <= 0 表示不限
type Window struct {
	Offset int
	Limit  int
}

// Store 存储后端
type Store interface {
	audited.IReader

	// Kind 后端类型
	Kind() Kind

	// Query 在同一读快照内统计总数并读取窗口内的记录，cols 为投影列
	Query(ctx context.Context, cond *query.Condition, cols []entity.Column, win Window) ([]entity.Record, int64, error)

	// Begin 开启写事务
	Begin(ctx context.Context) (Tx, error)

	// Verify 校验构造时注册表中的实体表与审计表可访问
	Verify(ctx context.Context) error

	// Close 释放资源
	Close() error
}

// Tx 写事务；同一事务内的业务写入与审计写入一并提交或回滚
type Tx interface {
	audited.IWriter

	// Get 按 ID 读取完整记录（包括已删除的），持久化后端在支持时加行锁
	Get(ctx context.Context, desc *entity.Descriptor, id int64) (entity.Record, error)

	// Insert 插入完整记录（包括 id 与系统字段）
	Insert(ctx context.Context, desc *entity.Descriptor, rec entity.Record) error

	// Update 按 ID 更新部分字段
	Update(ctx context.Context, desc *entity.Descriptor, id int64, values entity.Record) error

	Commit() error
	Rollback() error
}
