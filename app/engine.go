// Package app 组装查询、导出与变更组件，对外提供按实体名调用的统一入口。
package app

import (
	"context"
	stdErrors "errors"
	"io"
	"time"

	"crmkit/cache"
	"crmkit/domain/audited"
	"crmkit/domain/crud"
	"crmkit/domain/entity"
	"crmkit/domain/lifecycle"
	"crmkit/domain/query"
	"crmkit/errors"
	"crmkit/export"
	"crmkit/logging"
	"crmkit/monitoring"
	"crmkit/notify"
	"crmkit/storage"
)

// DefaultCompileCacheSize 编译结果缓存条目数
const DefaultCompileCacheSize = 512

// ExportSummary 导出结果摘要
type ExportSummary struct {
	Entity      entity.Name   `json:"entity"`
	Format      export.Format `json:"format"`
	ContentType string        `json:"contentType"`
	Filename    string        `json:"filename"`
	Rows        int           `json:"rows"`
	Total       int64         `json:"total"`
	Truncated   bool          `json:"truncated"`
}

// Engine 实体查询与变更入口
type Engine struct {
	registry  *entity.Registry
	compiler  *query.Compiler
	queries   *crud.QueryService
	mutations *lifecycle.Service
	store     storage.Store
	publisher notify.Publisher
	metrics   *monitoring.Metrics
	logger    logging.Logger
	now       func() time.Time

	limits      crud.Limits
	cacheConfig cache.Config
	stageHook   func(ctx context.Context, t lifecycle.Transition)
}

// Option 引擎选项
type Option func(*Engine)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher 设置审计通知发布者
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLimits 设置分页与导出上限
func WithLimits(l crud.Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithCompileCache 设置编译结果缓存；MaxSize 为负时不缓存
func WithCompileCache(cfg cache.Config) Option {
	return func(e *Engine) { e.cacheConfig = cfg }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStageHook 观察变更阶段迁移
func WithStageHook(fn func(ctx context.Context, t lifecycle.Transition)) Option {
	return func(e *Engine) { e.stageHook = fn }
}

// NewEngine 在已选定的存储后端上创建引擎
func NewEngine(store storage.Store, reg *entity.Registry, ids lifecycle.IDGenerator, opts ...Option) *Engine {
	e := &Engine{
		registry:    reg,
		store:       store,
		publisher:   notify.Noop{},
		now:         time.Now,
		cacheConfig: cache.Config{Name: "query_conditions", MaxSize: DefaultCompileCacheSize, TTL: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(e)
	}
	base := e.logger
	if base == nil {
		base = logging.GetLogger()
	}
	e.logger = logging.ComponentLogger(base, "engine")

	var compilerOpts []query.Option
	if e.cacheConfig.MaxSize >= 0 {
		conds := cache.New[string, *query.Condition](e.cacheConfig)
		if err := e.metrics.WatchCache(conds); err != nil {
			e.logger.Warn(context.Background(), "cache metrics not registered", logging.Error(err))
		}
		compilerOpts = append(compilerOpts, query.WithCache(conds))
	}
	e.compiler = query.NewCompiler(reg, compilerOpts...)

	e.queries = crud.NewQueryService(store,
		crud.WithLimits(e.limits),
		crud.WithLogger(base),
		crud.WithMetrics(e.metrics))

	recorder := audited.NewRecorder(audited.WithLogger(base), audited.WithClock(e.now))
	lcOpts := []lifecycle.Option{
		lifecycle.WithRecorder(recorder),
		lifecycle.WithPublisher(e.publisher),
		lifecycle.WithMetrics(e.metrics),
		lifecycle.WithLogger(base),
		lifecycle.WithClock(e.now),
	}
	if e.stageHook != nil {
		lcOpts = append(lcOpts, lifecycle.WithStageHook(e.stageHook))
	}
	e.mutations = lifecycle.NewService(store, reg, ids, lcOpts...)
	return e
}

// Registry 实体注册表
func (e *Engine) Registry() *entity.Registry { return e.registry }

// Backend 当前存储后端类型
func (e *Engine) Backend() storage.Kind { return e.store.Kind() }

// QueryEntity 编译并执行查询；Export 为 true 时不分页，返回导出上限内的全部记录
func (e *Engine) QueryEntity(ctx context.Context, name string, d query.Descriptor) (*crud.Page, error) {
	cond, err := e.compiler.CompileDescriptor(name, d)
	if err != nil {
		return nil, err
	}
	if !d.Export {
		return e.queries.Execute(ctx, cond, d.Page, d.PageSize, d.Columns)
	}

	set, err := e.queries.ExecuteForExport(ctx, cond, d.Columns)
	if err != nil {
		return nil, err
	}
	page := &crud.Page{Data: set.Records, Total: set.Total, Page: 1, PageSize: len(set.Records)}
	if set.Total > 0 {
		page.TotalPages = 1
	}
	return page, nil
}

// ListDeleted 查询可恢复（已软删除）的记录
func (e *Engine) ListDeleted(ctx context.Context, name string, d query.Descriptor) (*crud.Page, error) {
	d.Scope = query.ScopeDeleted
	return e.QueryEntity(ctx, name, d)
}

// ExportEntity 不分页执行查询并按格式写出到 w
func (e *Engine) ExportEntity(ctx context.Context, name string, d query.Descriptor, format export.Format, w io.Writer) (*ExportSummary, error) {
	cond, err := e.compiler.CompileDescriptor(name, d)
	if err != nil {
		return nil, err
	}
	set, err := e.queries.ExecuteForExport(ctx, cond, d.Columns)
	if err != nil {
		return nil, err
	}

	desc := cond.Entity
	title := entity.DeriveLabel(string(desc.Name))
	if err := export.Write(w, format, title, set.Records, set.Columns); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "render export").
			WithContext("format", string(format))
	}

	summary := &ExportSummary{
		Entity:      desc.Name,
		Format:      format,
		ContentType: format.ContentType(),
		Filename:    string(desc.Name) + "-" + e.now().UTC().Format("20060102-150405") + format.Extension(),
		Rows:        len(set.Records),
		Total:       set.Total,
		Truncated:   set.Truncated,
	}
	e.logger.Info(ctx, "export rendered",
		logging.String("entity", string(desc.Name)),
		logging.String("format", string(format)),
		logging.Int("rows", summary.Rows),
		logging.Bool("truncated", summary.Truncated))
	return summary, nil
}

// CreateEntity 新建实体
func (e *Engine) CreateEntity(ctx context.Context, name string, payload map[string]any, actor audited.Actor) (entity.Record, error) {
	return e.mutations.Create(ctx, name, payload, actor)
}

// UpdateEntity 更新活跃实体
func (e *Engine) UpdateEntity(ctx context.Context, name string, id int64, patch map[string]any, actor audited.Actor) (entity.Record, error) {
	return e.mutations.Update(ctx, name, id, patch, actor)
}

// DeleteEntity 软删除活跃实体
func (e *Engine) DeleteEntity(ctx context.Context, name string, id int64, actor audited.Actor) (bool, error) {
	return e.mutations.Delete(ctx, name, id, actor)
}

// RestoreEntity 恢复已删除实体
func (e *Engine) RestoreEntity(ctx context.Context, name string, id int64, actor audited.Actor) (entity.Record, error) {
	return e.mutations.Restore(ctx, name, id, actor)
}

// AuditTrail 读取实体的审计记录
func (e *Engine) AuditTrail(ctx context.Context, name string, id int64, offset, limit int) ([]*audited.Record, error) {
	return e.mutations.AuditTrail(ctx, name, id, offset, limit)
}

// Health 检查存储后端
func (e *Engine) Health(ctx context.Context) monitoring.HealthReport {
	return monitoring.Check(ctx, e.store, e.metrics)
}

// Close 关闭通知发布者与存储后端
func (e *Engine) Close() error {
	return stdErrors.Join(e.publisher.Close(), e.store.Close())
}
