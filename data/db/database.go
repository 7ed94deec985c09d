// Package db 持久化后端的数据库抽象，屏蔽 lib/pq 与 modernc sqlite 的差异。
package db

import (
	"context"
	"database/sql"
	"time"
)

// IDatabase 通用数据库接口
type IDatabase interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow

	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	Begin(ctx context.Context) (ITransaction, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (ITransaction, error)

	Ping(ctx context.Context) error
	Close() error

	// Raw 返回 *sql.DB 或 *sql.Tx，供 goose 迁移使用
	Raw() any
}

// IDialectNameProvider 返回 "sqlite" 或 "postgres"，dialect 包据此选择占位符与行锁语法
type IDialectNameProvider interface {
	GetDialectName() string
}

// ITransaction 事务接口
type ITransaction interface {
	IDatabase

	Commit() error
	Rollback() error
}

// IRows 查询结果集接口
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
	Columns() ([]string, error)
}

// IRow 单行结果接口
type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig 数据库配置
type DBConfig struct {
	Driver string // postgres, sqlite
	DSN    string

	// sqlite 忽略此项，固定为单连接
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// PingTimeout 建连后的可用性检查超时，为 0 时使用 3 秒
	PingTimeout time.Duration
}

// NewDatabaseFunc 建立连接，存储选择器通过它注入测试连接
type NewDatabaseFunc func(ctx context.Context, config DBConfig) (IDatabase, error)
