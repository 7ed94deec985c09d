// Package crud 在存储后端之上执行已编译的查询：分页读取与导出读取。
//
// 查询服务只读；写路径由 lifecycle 独占。
package crud

import (
	"context"
	"math"
	"time"

	"crmkit/domain/entity"
	"crmkit/domain/query"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/monitoring"
	"crmkit/storage"
)

// 默认限制
const (
	DefaultPageSize      = 20
	DefaultMaxPageSize   = 1000
	DefaultExportCeiling = 10000
)

// Limits 分页与导出限制，非正值取默认
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	ExportCeiling   int
}

func (l Limits) withDefaults() Limits {
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = DefaultPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = DefaultMaxPageSize
	}
	if l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = l.MaxPageSize
	}
	if l.ExportCeiling <= 0 {
		l.ExportCeiling = DefaultExportCeiling
	}
	return l
}

// Page 分页结果
type Page struct {
	Data       []entity.Record `json:"data"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}

// ExportSet 导出读取结果，Columns 为实际投影列（顺序即输出顺序）
type ExportSet struct {
	Records   []entity.Record
	Columns   []entity.Column
	Total     int64
	Truncated bool
}

// QueryService 查询执行器
type QueryService struct {
	store   storage.Store
	limits  Limits
	logger  logging.Logger
	metrics *monitoring.Metrics
}

// Option 查询服务选项
type Option func(*QueryService)

// WithLimits 设置分页与导出限制
func WithLimits(l Limits) Option {
	return func(s *QueryService) { s.limits = l }
}

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(s *QueryService) { s.logger = l }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *QueryService) { s.metrics = m }
}

// NewQueryService 创建查询执行器
func NewQueryService(store storage.Store, opts ...Option) *QueryService {
	s := &QueryService{store: store}
	for _, opt := range opts {
		opt(s)
	}
	s.limits = s.limits.withDefaults()
	s.logger = logging.ComponentLogger(s.logger, "query")
	return s
}

// Limits 返回生效的限制
func (s *QueryService) Limits() Limits { return s.limits }

// ClampPageSize 将请求的页大小限制在 [1, MaxPageSize]，非正值取默认
func (s *QueryService) ClampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return s.limits.DefaultPageSize
	}
	return min(pageSize, s.limits.MaxPageSize)
}

// ClampPage 将页码限制在 [1, math.MaxInt/pageSize]，保证偏移量不溢出
func ClampPage(page, pageSize int) int {
	if page < 1 {
		return 1
	}
	if pageSize > 0 && page > math.MaxInt/pageSize {
		return math.MaxInt / pageSize
	}
	return page
}

// Execute 分页执行查询；总数与页数据来自同一读快照
func (s *QueryService) Execute(ctx context.Context, cond *query.Condition, page, pageSize int, columns []string) (*Page, error) {
	if cond == nil || cond.Entity == nil {
		return nil, errors.NewError(errors.ErrCodeInternal, "query condition is required")
	}
	pageSize = s.ClampPageSize(pageSize)
	page = ClampPage(page, pageSize)
	cols := Projection(cond.Entity, columns)

	start := time.Now()
	recs, total, err := s.store.Query(ctx, cond, cols, storage.Window{
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
	})
	s.metrics.ObserveQuery(string(cond.Entity.Name), "page", time.Since(start))
	if err != nil {
		s.logger.Warn(ctx, "query failed",
			logging.String("entity", string(cond.Entity.Name)), logging.Error(err))
		return nil, errors.Normalize(err, "execute query")
	}
	if recs == nil {
		recs = []entity.Record{}
	}

	return &Page{
		Data:       recs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

// ExecuteForExport 不分页执行查询，超过导出上限时截断并记录告警
func (s *QueryService) ExecuteForExport(ctx context.Context, cond *query.Condition, columns []string) (*ExportSet, error) {
	if cond == nil || cond.Entity == nil {
		return nil, errors.NewError(errors.ErrCodeInternal, "query condition is required")
	}
	name := string(cond.Entity.Name)
	ceiling := s.limits.ExportCeiling
	cols := Projection(cond.Entity, columns)

	start := time.Now()
	// 多读一行用于判断是否超限
	recs, total, err := s.store.Query(ctx, cond, cols, storage.Window{Limit: ceiling + 1})
	s.metrics.ObserveQuery(name, "export", time.Since(start))
	if err != nil {
		s.logger.Warn(ctx, "export query failed", logging.String("entity", name), logging.Error(err))
		return nil, errors.Normalize(err, "execute export query")
	}

	set := &ExportSet{Records: recs, Columns: cols, Total: total}
	if len(recs) > ceiling {
		set.Records = recs[:ceiling]
		set.Truncated = true
		s.logger.Warn(ctx, "export truncated at row ceiling",
			logging.String("entity", name),
			logging.Int("ceiling", ceiling),
			logging.Int64("total", total))
	}
	if set.Records == nil {
		set.Records = []entity.Record{}
	}
	s.metrics.RecordExport(name, len(set.Records), set.Truncated)
	return set, nil
}

// Projection 返回请求列与实体可见列的交集（按请求顺序去重），未知列丢弃；
// 未请求或交集为空时返回全部可见列
func Projection(desc *entity.Descriptor, requested []string) []entity.Column {
	if len(requested) == 0 {
		return desc.Visible()
	}
	seen := make(map[string]bool, len(requested))
	cols := make([]entity.Column, 0, len(requested))
	for _, field := range requested {
		if seen[field] {
			continue
		}
		seen[field] = true
		if c, ok := desc.Addressable(field); ok {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return desc.Visible()
	}
	return cols
}

func totalPages(total int64, pageSize int) int {
	if total <= 0 {
		return 0
	}
	size := int64(pageSize)
	return int((total + size - 1) / size)
}
