// Package basic 基于 database/sql 的 IDatabase 实现，支持 postgres（lib/pq）与 sqlite（modernc）。
package basic

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	core "crmkit/data/db"
	"crmkit/data/db/dialect"
)

const defaultPingTimeout = 3 * time.Second

// DB 基于 database/sql 的最小实现，满足 core.IDatabase 抽象
type DB struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// New 根据 core.DBConfig 创建基础数据库实例并做可用性检查
//
// sqlite 连接池固定为单个常驻连接：内存库每个连接相互独立，文件库写入按库串行。
func New(ctx context.Context, config core.DBConfig) (core.IDatabase, error) {
	dial := dialect.New(config.Driver)
	if dial.Name() == dialect.NameUnknown {
		return nil, fmt.Errorf("basic.New: unsupported driver %q", config.Driver)
	}
	if strings.TrimSpace(config.DSN) == "" {
		return nil, fmt.Errorf("basic.New: empty dsn for driver %q", config.Driver)
	}

	db, err := sql.Open(dial.DriverName(), config.DSN)
	if err != nil {
		return nil, err
	}

	// 连接池配置
	if dial.Name() == dialect.NameSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if config.MaxOpenConns > 0 {
			db.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			db.SetMaxIdleConns(config.MaxIdleConns)
		}
		if config.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(config.ConnMaxLifetime)
		}
	}

	timeout := config.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, dialect: dial}, nil
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, dialect: d.dialect}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }

// Raw 返回 *sql.DB
func (d *DB) Raw() any { return d.db }

// GetDialectName 实现 core.IDialectNameProvider 接口
func (d *DB) GetDialectName() string {
	return string(d.dialect.Name())
}
