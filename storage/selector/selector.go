// Package selector 在启动时选择存储后端。
//
// 生产类环境必须使用持久化后端，任何连接、迁移或校验失败都直接返回错误；
// 其他环境在缺少 DSN 或持久化后端不可用时退回内存后端并记录 WARN。
package selector

import (
	"context"
	"strings"

	core "crmkit/data/db"
	dbbasic "crmkit/data/db/basic"
	"crmkit/data/db/dialect"
	"crmkit/data/db/migrations"
	"crmkit/domain/entity"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/monitoring"
	"crmkit/storage"
	"crmkit/storage/memstore"
	"crmkit/storage/sqlstore"
)

// 生产类环境名
var productionEnvs = map[string]bool{
	"production": true,
	"prod":       true,
	"staging":    true,
}

// IsProduction 判断 APP_ENV 是否为生产类环境（忽略大小写与首尾空白）
func IsProduction(env string) bool {
	return productionEnvs[strings.ToLower(strings.TrimSpace(env))]
}

// Config 后端选择配置
type Config struct {
	Env         string
	DB          core.DBConfig
	AutoMigrate bool
}

// Option 选择器选项
type Option func(*selector)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(s *selector) { s.logger = l }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *selector) { s.metrics = m }
}

// WithOpener 替换数据库连接工厂
func WithOpener(open core.NewDatabaseFunc) Option {
	return func(s *selector) { s.open = open }
}

// WithMigrator 替换迁移执行函数
func WithMigrator(migrate func(ctx context.Context, db core.IDatabase) error) Option {
	return func(s *selector) { s.migrate = migrate }
}

type selector struct {
	base    logging.Logger
	logger  logging.Logger
	metrics *monitoring.Metrics
	open    core.NewDatabaseFunc
	migrate func(ctx context.Context, db core.IDatabase) error
}

// Select 按配置选择并返回存储后端，调用方负责 Close
func Select(ctx context.Context, cfg Config, reg *entity.Registry, opts ...Option) (storage.Store, error) {
	s := &selector{
		open:    dbbasic.New,
		migrate: migrations.Up,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = s.logger
	if s.base == nil {
		s.base = logging.GetLogger()
	}
	s.logger = logging.ComponentLogger(s.base, "selector").WithFields(
		logging.String("env", cfg.Env),
		logging.String("driver", cfg.DB.Driver),
	)

	prod := IsProduction(cfg.Env)
	store, err := s.durable(ctx, cfg, reg)
	if err != nil {
		if prod {
			s.logger.Error(ctx, "durable storage backend required in production", logging.Error(err))
			return nil, errors.WrapError(err, errors.ErrCodeBackendUnavailable,
				"durable storage backend unavailable").WithContext("env", cfg.Env)
		}
		s.logger.Warn(ctx, "falling back to ephemeral storage backend, data will not survive a restart",
			logging.Error(err))
		s.metrics.SetBackend(string(storage.KindEphemeral))
		return memstore.New(reg, memstore.WithLogger(s.base)), nil
	}

	s.logger.Info(ctx, "durable storage backend selected")
	s.metrics.SetBackend(string(storage.KindDurable))
	return store, nil
}

// InMemorySQLite 判断 sqlite DSN 是否指向进程内数据库
func InMemorySQLite(dsn string) bool {
	dsn = strings.ToLower(strings.TrimSpace(dsn))
	return dsn == ":memory:" ||
		strings.HasPrefix(dsn, "file::memory:") ||
		strings.Contains(dsn, "mode=memory")
}

// durable 连接、迁移并校验持久化后端；失败时释放已打开的连接
func (s *selector) durable(ctx context.Context, cfg Config, reg *entity.Registry) (storage.Store, error) {
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return nil, errors.NewError(errors.ErrCodeBackendUnavailable, "database DSN is not configured")
	}
	if IsProduction(cfg.Env) && dialect.New(cfg.DB.Driver).Name() == dialect.NameSQLite && InMemorySQLite(cfg.DB.DSN) {
		return nil, errors.NewError(errors.ErrCodeBackendUnavailable, "in-memory sqlite database is not durable")
	}

	db, err := s.open(ctx, cfg.DB)
	if err != nil {
		return nil, errors.Normalize(err, "connect database")
	}

	if cfg.AutoMigrate {
		if err := s.migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, errors.Normalize(err, "apply migrations")
		}
		s.logger.Info(ctx, "schema migrations applied")
	}

	store := sqlstore.New(db, reg, sqlstore.WithLogger(s.base))
	if err := store.Verify(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
