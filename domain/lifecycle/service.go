// Package lifecycle 编排实体的新建、更新、软删除与恢复。
//
// 每次变更在一个存储事务内依次完成前置校验、业务写入与审计写入，
// 提交后才发布通知与记录指标；任一步失败整体回滚。
package lifecycle

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"time"

	"crmkit/domain/audited"
	"crmkit/domain/entity"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/monitoring"
	"crmkit/notify"
	"crmkit/storage"
	"crmkit/validation"
)

// Stage 变更所处阶段
type Stage string

const (
	StageStarted              Stage = "started"
	StageBusinessWriteApplied Stage = "business_write_applied"
	StageAuditWritten         Stage = "audit_written"
	StageCommitted            Stage = "committed"
	StageAborted              Stage = "aborted"
)

// 审计轨迹分页
const (
	DefaultTrailLimit = 100
	MaxTrailLimit     = 1000
)

// Transition 阶段迁移通知
type Transition struct {
	Entity    entity.Name
	Operation audited.Operation
	EntityID  int64
	Stage     Stage
}

// IDGenerator 实体 ID 生成器
type IDGenerator interface {
	NextID() (int64, error)
}

// Service 变更编排器，独占审计实体的写路径
type Service struct {
	store         storage.Store
	registry      *entity.Registry
	recorder      *audited.Recorder
	ids           IDGenerator
	publisher     notify.Publisher
	metrics       *monitoring.Metrics
	logger        logging.Logger
	now           func() time.Time
	onStage       func(ctx context.Context, t Transition)
	notifyTimeout time.Duration
}

// Option 编排器选项
type Option func(*Service)

// WithRecorder 设置审计记录器
func WithRecorder(r *audited.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPublisher 设置提交后的通知发布者
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStageHook 在每次阶段迁移时回调（同步执行）
func WithStageHook(fn func(ctx context.Context, t Transition)) Option {
	return func(s *Service) { s.onStage = fn }
}

// WithNotifyTimeout 设置提交后发布通知的超时，默认 5 秒
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.notifyTimeout = d }
}

// NewService 创建变更编排器
func NewService(store storage.Store, reg *entity.Registry, ids IDGenerator, opts ...Option) *Service {
	s := &Service{
		store:         store,
		registry:      reg,
		ids:           ids,
		publisher:     notify.Noop{},
		now:           time.Now,
		notifyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.ComponentLogger(s.logger, "lifecycle")
	if s.recorder == nil {
		s.recorder = audited.NewRecorder(audited.WithLogger(s.logger), audited.WithClock(s.now))
	}
	return s
}

// Create 校验载荷并新建实体，返回完整记录
func (s *Service) Create(ctx context.Context, name string, payload map[string]any, actor audited.Actor) (entity.Record, error) {
	desc, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	values, err := normalize(desc, payload)
	if err != nil {
		return nil, err
	}
	if err := validation.ForCreate(desc).Validate(values); err != nil {
		return nil, err
	}
	id, err := s.ids.NextID()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "generate entity id")
	}

	rec := make(entity.Record, len(desc.Columns))
	for _, c := range desc.Writable() {
		rec[c.Field] = values[c.Field]
	}
	rec[entity.FieldID] = id
	rec[entity.FieldIsDeleted] = false
	entity.Stamp(rec, actor.By(), s.timestamp(), true)

	m := mutation{op: audited.OpCreate, desc: desc, id: id, actor: actor}
	m.apply = func(ctx context.Context, tx storage.Tx) (entity.Record, entity.Record, error) {
		if err := tx.Insert(ctx, desc, rec); err != nil {
			return nil, nil, errors.Normalize(err, "insert "+desc.Table)
		}
		return nil, rec, nil
	}
	if _, err := s.run(ctx, m); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Update 对活跃实体应用补丁，返回更新后的完整记录
func (s *Service) Update(ctx context.Context, name string, id int64, patch map[string]any, actor audited.Actor) (entity.Record, error) {
	desc, err := s.lookup(name, id)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, errors.NewValidationError("update patch is empty")
	}
	values, err := normalize(desc, patch)
	if err != nil {
		return nil, err
	}
	if err := validation.ForPatch(desc).Validate(values); err != nil {
		return nil, err
	}

	var updated entity.Record
	m := mutation{op: audited.OpUpdate, desc: desc, id: id, actor: actor}
	m.apply = func(ctx context.Context, tx storage.Tx) (entity.Record, entity.Record, error) {
		old, err := s.loadActive(ctx, tx, desc, id)
		if err != nil {
			return nil, nil, err
		}
		changes := values.Clone()
		entity.Stamp(changes, actor.By(), s.timestamp(), false)
		if err := tx.Update(ctx, desc, id, changes); err != nil {
			return nil, nil, errors.Normalize(err, "update "+desc.Table)
		}
		updated = merge(old, changes)
		return old, updated, nil
	}
	if _, err := s.run(ctx, m); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// Delete 软删除活跃实体
func (s *Service) Delete(ctx context.Context, name string, id int64, actor audited.Actor) (bool, error) {
	desc, err := s.lookup(name, id)
	if err != nil {
		return false, err
	}
	m := mutation{op: audited.OpDelete, desc: desc, id: id, actor: actor}
	m.apply = func(ctx context.Context, tx storage.Tx) (entity.Record, entity.Record, error) {
		old, err := s.loadActive(ctx, tx, desc, id)
		if err != nil {
			return nil, nil, err
		}
		return s.flip(ctx, tx, desc, old, true, actor)
	}
	if _, err := s.run(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

// Restore 恢复已软删除的实体，返回恢复后的完整记录
func (s *Service) Restore(ctx context.Context, name string, id int64, actor audited.Actor) (entity.Record, error) {
	desc, err := s.lookup(name, id)
	if err != nil {
		return nil, err
	}
	var restored entity.Record
	m := mutation{op: audited.OpRestore, desc: desc, id: id, actor: actor}
	m.apply = func(ctx context.Context, tx storage.Tx) (entity.Record, entity.Record, error) {
		old, err := tx.Get(ctx, desc, id)
		switch {
		case stdErrors.Is(err, storage.ErrNotFound):
			return nil, nil, errors.NewNotFoundOrNotDeleted(desc.Table, id, errors.ReasonMissing)
		case err != nil:
			return nil, nil, errors.Normalize(err, "read "+desc.Table)
		case !old.IsDeleted():
			return nil, nil, errors.NewNotFoundOrNotDeleted(desc.Table, id, errors.ReasonActive)
		}
		old, restored, err = s.flip(ctx, tx, desc, old, false, actor)
		return old, restored, err
	}
	if _, err := s.run(ctx, m); err != nil {
		return nil, err
	}
	return restored.Clone(), nil
}

// AuditTrail 按写入顺序读取实体的审计记录；limit 非正取默认，超出上限被截断
func (s *Service) AuditTrail(ctx context.Context, name string, id int64, offset, limit int) ([]*audited.Record, error) {
	desc, err := s.lookup(name, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTrailLimit
	}
	limit = min(limit, MaxTrailLimit)
	recs, err := s.store.AuditTrail(ctx, desc.Table, id, max(offset, 0), limit)
	if err != nil {
		return nil, errors.Normalize(err, "read audit trail")
	}
	return recs, nil
}

// mutation 一次变更：apply 在事务内完成前置校验与业务写入，返回前后快照
type mutation struct {
	op    audited.Operation
	desc  *entity.Descriptor
	id    int64
	actor audited.Actor
	apply func(ctx context.Context, tx storage.Tx) (old, new entity.Record, err error)
}

// run 驱动阶段迁移：started → business_write_applied → audit_written → committed，失败则 aborted
func (s *Service) run(ctx context.Context, m mutation) (*audited.Record, error) {
	stage := StageStarted
	s.transition(ctx, m, stage)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, s.abort(ctx, m, stage, errors.Normalize(err, "begin transaction"))
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn(ctx, "rollback failed", logging.String("table", m.desc.Table), logging.Error(rbErr))
			}
		}
	}()

	old, updated, err := m.apply(ctx, tx)
	if err != nil {
		return nil, s.abort(ctx, m, stage, err)
	}
	stage = StageBusinessWriteApplied
	s.transition(ctx, m, stage)

	rec, err := s.recorder.Record(ctx, tx, audited.Entry{
		Operation:  m.op,
		Descriptor: m.desc,
		EntityID:   m.id,
		Old:        old,
		New:        updated,
		Actor:      m.actor,
	})
	if err != nil {
		return nil, s.abort(ctx, m, stage, err)
	}
	stage = StageAuditWritten
	s.transition(ctx, m, stage)

	if err := tx.Commit(); err != nil {
		return nil, s.abort(ctx, m, stage, errors.Normalize(err, "commit transaction"))
	}
	committed = true
	s.transition(ctx, m, StageCommitted)

	s.logger.Info(ctx, "mutation committed",
		logging.String("table", m.desc.Table),
		logging.Int64("entity_id", m.id),
		logging.String("operation", string(m.op)),
		logging.String("risk", string(rec.RiskLevel)),
		logging.String("by", m.actor.By()))
	s.metrics.RecordMutation(string(m.desc.Name), string(m.op), string(rec.RiskLevel))
	s.publish(ctx, rec)
	return rec, nil
}

// abort 记录中止；事务由 run 的 defer 回滚
func (s *Service) abort(ctx context.Context, m mutation, reached Stage, err error) error {
	s.transition(ctx, m, StageAborted)
	s.metrics.RecordAborted(string(m.desc.Name), string(m.op), string(reached))

	fields := []logging.Field{
		logging.String("table", m.desc.Table),
		logging.Int64("entity_id", m.id),
		logging.String("operation", string(m.op)),
		logging.String("stage", string(reached)),
		logging.Error(err),
	}
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeValidation, errors.ErrCodeNotFoundOrDeleted, errors.ErrCodeNotFoundOrNotDeleted:
		s.logger.Info(ctx, "mutation rejected", fields...)
	default:
		s.logger.Warn(ctx, "mutation aborted", fields...)
	}
	return err
}

func (s *Service) transition(ctx context.Context, m mutation, stage Stage) {
	if s.onStage != nil {
		s.onStage(ctx, Transition{Entity: m.desc.Name, Operation: m.op, EntityID: m.id, Stage: stage})
	}
}

// publish 提交后发布通知，失败只记录
func (s *Service) publish(ctx context.Context, rec *audited.Record) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, notify.NewEvent(rec)); err != nil {
		s.metrics.RecordNotifyFailure(rec.TableName)
		s.logger.Warn(ctx, "publish audit event failed",
			logging.String("audit_id", rec.ID),
			logging.String("table", rec.TableName),
			logging.Error(err))
	}
}

func (s *Service) lookup(name string, id int64) (*entity.Descriptor, error) {
	desc, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateID(id, entity.FieldID); err != nil {
		return nil, err
	}
	return desc, nil
}

// loadActive 读取（持久化后端加行锁）并要求实体处于活跃状态
func (s *Service) loadActive(ctx context.Context, tx storage.Tx, desc *entity.Descriptor, id int64) (entity.Record, error) {
	rec, err := tx.Get(ctx, desc, id)
	switch {
	case stdErrors.Is(err, storage.ErrNotFound):
		return nil, errors.NewNotFoundOrDeleted(desc.Table, id, errors.ReasonMissing)
	case err != nil:
		return nil, errors.Normalize(err, "read "+desc.Table)
	case rec.IsDeleted():
		return nil, errors.NewNotFoundOrDeleted(desc.Table, id, errors.ReasonDeleted)
	}
	return rec, nil
}

// flip 切换软删除标记并盖更新戳
func (s *Service) flip(ctx context.Context, tx storage.Tx, desc *entity.Descriptor, old entity.Record, deleted bool, actor audited.Actor) (entity.Record, entity.Record, error) {
	changes := entity.Record{entity.FieldIsDeleted: deleted}
	entity.Stamp(changes, actor.By(), s.timestamp(), false)
	if err := tx.Update(ctx, desc, old.ID(), changes); err != nil {
		return nil, nil, errors.Normalize(err, "update "+desc.Table)
	}
	return old, merge(old, changes), nil
}

// timestamp 统一为 UTC 微秒精度，与持久化后端的时间精度一致
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// normalize 校验字段归属并按列类型归一化载荷
func normalize(desc *entity.Descriptor, payload map[string]any) (entity.Record, error) {
	fields := make([]string, 0, len(payload))
	for f := range payload {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make(entity.Record, len(payload))
	for _, f := range fields {
		col, ok := desc.Column(f)
		if !ok {
			return nil, errors.NewFieldError(errors.KindUnknownField, f,
				fmt.Sprintf("unknown field %q for %s", f, desc.Name))
		}
		if col.ReadOnly || col.IsLifecycle() {
			return nil, errors.NewFieldError(errors.KindMalformed, f,
				fmt.Sprintf("field %q is maintained by the system", f))
		}
		v, err := col.Coerce(payload[f])
		if err != nil {
			return nil, errors.NewFieldError(errors.KindMalformed, f, err.Error())
		}
		out[f] = v
	}
	return out, nil
}

func merge(base, changes entity.Record) entity.Record {
	out := base.Clone()
	for k, v := range changes {
		out[k] = v
	}
	return out
}
