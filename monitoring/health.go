package monitoring

import (
	"context"
	"time"

	"crmkit/storage"
)

// 健康状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthReport 健康检查结果
type HealthReport struct {
	Status  string        `json:"status"`
	Healthy bool          `json:"healthy"`
	Backend storage.Kind  `json:"backend"`
	Issues  []string      `json:"issues"`
	Uptime  time.Duration `json:"uptime"`
}

// Check 校验存储后端可用性。
//
// 临时后端可用但数据不持久，报告为 degraded；Verify 失败为 unhealthy。
func Check(ctx context.Context, store storage.Store, m *Metrics) HealthReport {
	report := HealthReport{
		Status:  StatusHealthy,
		Healthy: true,
		Backend: store.Kind(),
		Issues:  make([]string, 0),
		Uptime:  m.Uptime(),
	}

	if err := store.Verify(ctx); err != nil {
		report.Status = StatusUnhealthy
		report.Healthy = false
		report.Issues = append(report.Issues, err.Error())
		return report
	}

	if store.Kind() == storage.KindEphemeral {
		report.Status = StatusDegraded
		report.Issues = append(report.Issues, "ephemeral storage backend: data is lost on restart")
	}
	return report
}
