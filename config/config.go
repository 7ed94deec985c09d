// Package config 从 .env 文件与环境变量加载运行配置。
//
// .env 中的值不覆盖已存在的环境变量；未设置的项取默认值。
package config

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	core "crmkit/data/db"
	"crmkit/domain/crud"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/storage/selector"
)

// 通知驱动
const (
	NotifyNone  = "none"
	NotifyRedis = "redis"
	NotifyNATS  = "nats"
)

// Config 运行配置
type Config struct {
	Env            string
	DB             core.DBConfig
	AutoMigrate    bool
	Query          QueryConfig
	RiskPolicyFile string
	Notify         NotifyConfig
	LogLevel       logging.Level
	Snowflake      SnowflakeConfig
}

// QueryConfig 查询与导出上限
type QueryConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	ExportMaxRows   int
}

// NotifyConfig 审计通知
type NotifyConfig struct {
	Driver      string
	RedisAddr   string
	RedisStream string
	NATSURL     string
	NATSSubject string
	MaxAttempts int
}

// SnowflakeConfig 实体 ID 生成器节点
type SnowflakeConfig struct {
	DatacenterID int64
	WorkerID     int64
}

// Load 读取 .env 文件（缺省为 ./.env，不存在时忽略）后从环境变量构建配置
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !stdErrors.Is(err, fs.ErrNotExist) {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "load env file")
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup 从任意键值来源构建配置
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		Env: e.str("APP_ENV", "development"),
		DB: core.DBConfig{
			Driver:          e.str("DB_DRIVER", "postgres"),
			DSN:             e.str("DB_DSN", ""),
			MaxOpenConns:    e.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    e.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		Query: QueryConfig{
			DefaultPageSize: e.int("QUERY_DEFAULT_PAGE_SIZE", crud.DefaultPageSize),
			MaxPageSize:     e.int("QUERY_MAX_PAGE_SIZE", crud.DefaultMaxPageSize),
			ExportMaxRows:   e.int("EXPORT_MAX_ROWS", crud.DefaultExportCeiling),
		},
		RiskPolicyFile: e.str("RISK_POLICY_FILE", ""),
		Notify: NotifyConfig{
			Driver:      strings.ToLower(e.str("NOTIFY_DRIVER", NotifyNone)),
			RedisAddr:   e.str("REDIS_ADDR", ""),
			RedisStream: e.str("REDIS_STREAM", "crmkit:audit"),
			NATSURL:     e.str("NATS_URL", ""),
			NATSSubject: e.str("NATS_SUBJECT", "crmkit.audit."),
			MaxAttempts: e.int("NOTIFY_MAX_ATTEMPTS", 3),
		},
		LogLevel: logging.ParseLevel(e.str("LOG_LEVEL", "info")),
		Snowflake: SnowflakeConfig{
			DatacenterID: int64(e.int("SNOWFLAKE_DATACENTER_ID", 0)),
			WorkerID:     int64(e.int("SNOWFLAKE_WORKER_ID", 0)),
		},
	}
	cfg.AutoMigrate = e.bool("DB_AUTO_MIGRATE", !selector.IsProduction(cfg.Env))

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return invalid("DB_DRIVER", fmt.Sprintf("unsupported driver %q", c.DB.Driver))
	}
	switch c.Notify.Driver {
	case NotifyNone:
	case NotifyRedis:
		if c.Notify.RedisAddr == "" {
			return invalid("REDIS_ADDR", "required when NOTIFY_DRIVER=redis")
		}
	case NotifyNATS:
	default:
		return invalid("NOTIFY_DRIVER", fmt.Sprintf("unsupported notify driver %q", c.Notify.Driver))
	}
	if c.Notify.MaxAttempts < 1 {
		return invalid("NOTIFY_MAX_ATTEMPTS", "must be at least 1")
	}
	if c.Query.DefaultPageSize <= 0 {
		return invalid("QUERY_DEFAULT_PAGE_SIZE", "must be positive")
	}
	if c.Query.MaxPageSize <= 0 {
		return invalid("QUERY_MAX_PAGE_SIZE", "must be positive")
	}
	if c.Query.ExportMaxRows <= 0 {
		return invalid("EXPORT_MAX_ROWS", "must be positive")
	}
	return nil
}

// Production 是否为生产类环境
func (c *Config) Production() bool {
	return selector.IsProduction(c.Env)
}

// Selector 存储选择配置
func (c *Config) Selector() selector.Config {
	return selector.Config{Env: c.Env, DB: c.DB, AutoMigrate: c.AutoMigrate}
}

// Limits 查询执行器上限
func (c *Config) Limits() crud.Limits {
	return crud.Limits{
		DefaultPageSize: c.Query.DefaultPageSize,
		MaxPageSize:     c.Query.MaxPageSize,
		ExportCeiling:   c.Query.ExportMaxRows,
	}
}

func invalid(key, msg string) error {
	return errors.NewFieldError(errors.KindMalformed, key, key+": "+msg)
}

// env 记录首个解析错误
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, fmt.Sprintf("expected integer, got %q", v))
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, fmt.Sprintf("expected boolean, got %q", v))
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, fmt.Sprintf("expected duration, got %q", v))
		return def
	}
	return d
}

func (e *env) fail(key, msg string) {
	if e.err == nil {
		e.err = invalid(key, msg)
	}
}
