package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmkit/domain/entity"
	"crmkit/errors"
	"crmkit/logging"
)

func lookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookup(nil))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Production())
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Empty(t, cfg.DB.DSN)
	assert.Equal(t, time.Hour, cfg.DB.ConnMaxLifetime)
	assert.Equal(t, 20, cfg.Query.DefaultPageSize)
	assert.Equal(t, 1000, cfg.Query.MaxPageSize)
	assert.Equal(t, 10000, cfg.Query.ExportMaxRows)
	assert.Equal(t, NotifyNone, cfg.Notify.Driver)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, logging.InfoLevel, cfg.LogLevel)
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookup(map[string]string{
		"APP_ENV":                 " Production ",
		"DB_DRIVER":               "sqlite",
		"DB_DSN":                  "file:crm.db",
		"DB_CONN_MAX_LIFETIME":    "90s",
		"QUERY_DEFAULT_PAGE_SIZE": "50",
		"EXPORT_MAX_ROWS":         "500",
		"NOTIFY_DRIVER":           "Redis",
		"REDIS_ADDR":              "localhost:6379",
		"LOG_LEVEL":               "debug",
		"SNOWFLAKE_WORKER_ID":     "7",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 90*time.Second, cfg.DB.ConnMaxLifetime)
	assert.Equal(t, NotifyRedis, cfg.Notify.Driver)
	assert.Equal(t, logging.DebugLevel, cfg.LogLevel)
	assert.Equal(t, int64(7), cfg.Snowflake.WorkerID)

	limits := cfg.Limits()
	assert.Equal(t, 50, limits.DefaultPageSize)
	assert.Equal(t, 500, limits.ExportCeiling)

	sel := cfg.Selector()
	assert.Equal(t, "file:crm.db", sel.DB.DSN)
	assert.False(t, sel.AutoMigrate)
}

func TestFromLookup_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		field  string
	}{
		{"bad int", map[string]string{"QUERY_MAX_PAGE_SIZE": "many"}, "QUERY_MAX_PAGE_SIZE"},
		{"bad bool", map[string]string{"DB_AUTO_MIGRATE": "sometimes"}, "DB_AUTO_MIGRATE"},
		{"bad duration", map[string]string{"DB_CONN_MAX_LIFETIME": "forever"}, "DB_CONN_MAX_LIFETIME"},
		{"driver", map[string]string{"DB_DRIVER": "oracle"}, "DB_DRIVER"},
		{"notify driver", map[string]string{"NOTIFY_DRIVER": "kafka"}, "NOTIFY_DRIVER"},
		{"redis without addr", map[string]string{"NOTIFY_DRIVER": "redis"}, "REDIS_ADDR"},
		{"non positive", map[string]string{"EXPORT_MAX_ROWS": "0"}, "EXPORT_MAX_ROWS"},
		{"notify attempts", map[string]string{"NOTIFY_MAX_ATTEMPTS": "0"}, "NOTIFY_MAX_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(lookup(tt.values))
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Equal(t, tt.field, errors.Detail(err, "field"))
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CRMKIT_TEST_ONLY=1\nAPP_ENV=staging\nDB_DSN=postgres://crm\n"), 0o600))

	// 已存在的环境变量优先
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DSN", "")
	os.Unsetenv("DB_DSN")
	t.Cleanup(func() { os.Unsetenv("CRMKIT_TEST_ONLY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "postgres://crm", cfg.DB.DSN)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestParseRiskPolicies(t *testing.T) {
	policies, err := ParseRiskPolicies([]byte(`
policies:
  leads:
    critical: [email]
    high: [status]
    threshold: 2
`))
	require.NoError(t, err)
	assert.Equal(t, entity.RiskPolicy{Critical: []string{"email"}, High: []string{"status"}, Threshold: 2}, policies[entity.Leads])

	_, err = ParseRiskPolicies([]byte("policies: [oops"))
	assert.Error(t, err)

	_, err = ParseRiskPolicies([]byte("policies:\n  leads:\n    threshold: -1\n"))
	assert.True(t, errors.IsValidation(err))
}

func TestConfig_Registry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies:\n  service_orders:\n    critical: [status]\n"), 0o600))

	cfg := &Config{RiskPolicyFile: path}
	reg, err := cfg.Registry()
	require.NoError(t, err)
	desc := reg.MustLookup(entity.ServiceOrders)
	assert.Equal(t, []string{"status"}, desc.Risk.Critical)
	assert.Equal(t, entity.DefaultRiskThreshold, desc.Risk.Threshold)

	require.NoError(t, os.WriteFile(path, []byte("policies:\n  widgets:\n    high: [x]\n"), 0o600))
	_, err = cfg.Registry()
	assert.Error(t, err)

	cfg.RiskPolicyFile = filepath.Join(dir, "missing.yaml")
	_, err = cfg.Registry()
	assert.Error(t, err)

	cfg.RiskPolicyFile = ""
	reg, err = cfg.Registry()
	require.NoError(t, err)
	assert.Len(t, reg.Names(), 6)
}
