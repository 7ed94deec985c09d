// Package monitoring 以 Prometheus 指标记录变更、查询与导出情况，并提供后端健康检查。
//
// *Metrics 的所有记录方法对 nil 接收者安全，未配置指标时组件无需判空。
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crmkit/cache"
)

const namespace = "crmkit"

// Metrics 指标收集器
type Metrics struct {
	mutations      *prometheus.CounterVec
	aborted        *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	exportRows     *prometheus.HistogramVec
	truncations    *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	backend        *prometheus.GaugeVec

	registerer prometheus.Registerer
	startTime  time.Time
}

// NewMetrics 创建指标收集器并注册到 reg；reg 为 nil 时指标只在进程内累积
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Committed mutations by entity, operation and risk level.",
		}, []string{"entity", "operation", "risk"}),
		aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_aborted_total",
			Help:      "Aborted mutations by entity, operation and the last stage reached.",
		}, []string{"entity", "operation", "stage"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query execution latency by entity and mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity", "mode"}),
		exportRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_rows",
			Help:      "Rows written per export.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 6),
		}, []string{"entity"}),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_truncations_total",
			Help:      "Exports cut at the row ceiling.",
		}, []string{"entity"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_notify_failures_total",
			Help:      "Audit notifications that could not be published.",
		}, []string{"entity"}),
		backend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_backend",
			Help:      "Selected storage backend (1 for the active kind).",
		}, []string{"kind"}),
		registerer: reg,
		startTime:  time.Now(),
	}
	if reg != nil {
		reg.MustRegister(m.mutations, m.aborted, m.queryDuration, m.exportRows,
			m.truncations, m.notifyFailures, m.backend)
	}
	return m
}

// RecordMutation 记录一次已提交的变更
func (m *Metrics) RecordMutation(entityName, operation, risk string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(entityName, operation, risk).Inc()
}

// RecordAborted 记录一次中止的变更及其到达的阶段
func (m *Metrics) RecordAborted(entityName, operation, stage string) {
	if m == nil {
		return
	}
	m.aborted.WithLabelValues(entityName, operation, stage).Inc()
}

// ObserveQuery 记录查询耗时，mode 为 page 或 export
func (m *Metrics) ObserveQuery(entityName, mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(entityName, mode).Observe(d.Seconds())
}

// RecordExport 记录一次导出的行数及是否被截断
func (m *Metrics) RecordExport(entityName string, rows int, truncated bool) {
	if m == nil {
		return
	}
	m.exportRows.WithLabelValues(entityName).Observe(float64(rows))
	if truncated {
		m.truncations.WithLabelValues(entityName).Inc()
	}
}

// RecordNotifyFailure 记录一次审计通知发布失败
func (m *Metrics) RecordNotifyFailure(entityName string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(entityName).Inc()
}

// SetBackend 标记当前使用的存储后端
func (m *Metrics) SetBackend(kind string) {
	if m == nil {
		return
	}
	m.backend.Reset()
	m.backend.WithLabelValues(kind).Set(1)
}

// Uptime 自创建以来的时长
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// StatsSource 可暴露命中统计的缓存
type StatsSource interface {
	Name() string
	Stats() cache.Stats
}

// WatchCache 以 GaugeFunc 暴露缓存的命中、未命中与大小；未配置 Registerer 时忽略
func (m *Metrics) WatchCache(src StatsSource) error {
	if m == nil || m.registerer == nil || src == nil {
		return nil
	}
	labels := prometheus.Labels{"cache": src.Name()}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_hits", Help: "Cache hits.", ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Hits) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_misses", Help: "Cache misses.", ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_entries", Help: "Cached entries.", ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Size) }),
	}
	for _, g := range gauges {
		if err := m.registerer.Register(g); err != nil {
			return err
		}
	}
	return nil
}
