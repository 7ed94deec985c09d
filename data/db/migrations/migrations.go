// Package migrations 以 goose 管理实体表与审计表的结构，按方言分目录嵌入。
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	core "crmkit/data/db"
	"crmkit/data/db/dialect"
)

// EmbedMigrations contains the embedded SQL migration files.
//
//go:embed sqlite/*.sql postgres/*.sql
var EmbedMigrations embed.FS

// goose 的 BaseFS/Dialect 为包级状态
var gooseMu sync.Mutex

// Up 执行全部未应用的迁移
func Up(ctx context.Context, db core.IDatabase) error {
	sqlDB, dial, err := resolve(db)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(EmbedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dial.MigrationDialect()); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, string(dial.Name())); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Version 返回当前已应用的迁移版本
func Version(ctx context.Context, db core.IDatabase) (int64, error) {
	sqlDB, dial, err := resolve(db)
	if err != nil {
		return 0, err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect(dial.MigrationDialect()); err != nil {
		return 0, fmt.Errorf("goose set dialect: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return v, nil
}

func resolve(db core.IDatabase) (*sql.DB, dialect.Dialect, error) {
	dial := dialect.FromDatabase(db)
	if dial.Name() == dialect.NameUnknown {
		return nil, dial, fmt.Errorf("migrations: unknown dialect")
	}
	sqlDB, ok := db.Raw().(*sql.DB)
	if !ok {
		return nil, dial, fmt.Errorf("migrations: database handle %T is not *sql.DB", db.Raw())
	}
	return sqlDB, dial, nil
}
