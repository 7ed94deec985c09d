package audited

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"crmkit/domain/entity"
	"crmkit/errors"
	"crmkit/logging"
)

// Entry 一次待审计的变更，快照由调用方提供，Recorder 不读取业务数据
type Entry struct {
	Operation  Operation
	Descriptor *entity.Descriptor
	EntityID   int64
	Old        entity.Record
	New        entity.Record
	Actor      Actor
}

// Recorder 审计记录器
type Recorder struct {
	logger logging.Logger
	now    func() time.Time
	newID  func() string
}

// RecorderOption Recorder 选项
type RecorderOption func(*Recorder)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithIDGenerator 设置审计记录 ID 生成器，默认 UUIDv4
func WithIDGenerator(gen func() string) RecorderOption {
	return func(r *Recorder) { r.newID = gen }
}

// NewRecorder 创建审计记录器
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.ComponentLogger(r.logger, "audit")
	return r
}

// Record 计算差异与风险等级，并通过 w（调用方的事务）写入审计记录。
//
// 写入失败返回 AUDIT_WRITE_FAILURE，调用方应回滚整个事务。
func (r *Recorder) Record(ctx context.Context, w IWriter, e Entry) (*Record, error) {
	if !e.Operation.Valid() {
		return nil, errors.NewError(errors.ErrCodeInternal, fmt.Sprintf("unknown audit operation %q", e.Operation))
	}
	if e.Descriptor == nil {
		return nil, errors.NewError(errors.ErrCodeInternal, "audit entry without entity descriptor")
	}

	var changed []string
	if e.Operation == OpUpdate {
		var err error
		changed, err = ChangedFields(e.Old, e.New)
		if err != nil {
			r.logger.Warn(ctx, "diff serialization failed, treating all fields as changed",
				logging.String("table", e.Descriptor.Table),
				logging.Int64("entity_id", e.EntityID),
				logging.Error(err))
		}
	}

	rec := &Record{
		ID:            r.newID(),
		Operation:     e.Operation,
		TableName:     e.Descriptor.Table,
		EntityID:      e.EntityID,
		OldValues:     e.Old.Clone(),
		NewValues:     e.New.Clone(),
		ChangedFields: changed,
		UserID:        e.Actor.UserID,
		UserName:      e.Actor.UserName,
		UserRole:      e.Actor.UserRole,
		IPAddress:     e.Actor.IPAddress,
		UserAgent:     e.Actor.UserAgent,
		Reason:        e.Actor.Reason,
		RiskLevel:     ClassifyRisk(e.Operation, changed, e.Descriptor.Risk),
		CreatedAt:     r.now().UTC(),
	}
	if e.Operation == OpCreate {
		rec.OldValues = nil
	}

	if err := w.AppendAudit(ctx, rec); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeAuditWrite, "write audit record").
			WithDetails(map[string]any{"table": rec.TableName, "id": rec.EntityID, "operation": string(rec.Operation)})
	}

	r.logger.Debug(ctx, "audit record written",
		logging.String("table", rec.TableName),
		logging.Int64("entity_id", rec.EntityID),
		logging.String("operation", string(rec.Operation)),
		logging.String("risk", string(rec.RiskLevel)))
	return rec, nil
}

// bookkeeping 不参与差异计算的字段
var bookkeeping = map[string]bool{
	entity.FieldID:        true,
	entity.FieldCreatedAt: true,
	entity.FieldCreatedBy: true,
	entity.FieldUpdatedAt: true,
	entity.FieldUpdatedBy: true,
}

// ChangedFields 返回 newValues 中与 oldValues 的 JSON 序列化不同的字段（排序）。
//
// 序列化失败时返回全部非簿记字段以及该错误。
func ChangedFields(oldValues, newValues entity.Record) ([]string, error) {
	var changed, all []string
	var firstErr error
	for k, nv := range newValues {
		if bookkeeping[k] {
			continue
		}
		all = append(all, k)

		a, errOld := json.Marshal(oldValues[k])
		b, errNew := json.Marshal(nv)
		if errOld != nil || errNew != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("field %s: %w", k, firstNonNil(errOld, errNew))
			}
			continue
		}
		if !bytes.Equal(a, b) {
			changed = append(changed, k)
		}
	}
	if firstErr != nil {
		sort.Strings(all)
		return all, firstErr
	}
	sort.Strings(changed)
	return changed, nil
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ClassifyRisk 按固定顺序判定风险等级：
//
//  1. delete → high
//  2. create → low
//  3. update 且包含 critical 字段 → critical
//  4. update 且包含 high 字段 → high
//  5. update 且变更字段数超过阈值 → medium
//  6. 其余 → low
func ClassifyRisk(op Operation, changed []string, policy entity.RiskPolicy) RiskLevel {
	switch op {
	case OpDelete:
		return RiskHigh
	case OpCreate:
		return RiskLow
	case OpUpdate:
	default:
		return RiskLow
	}

	if intersects(changed, policy.Critical) {
		return RiskCritical
	}
	if intersects(changed, policy.High) {
		return RiskHigh
	}
	threshold := policy.Threshold
	if threshold <= 0 {
		threshold = entity.DefaultRiskThreshold
	}
	if len(changed) > threshold {
		return RiskMedium
	}
	return RiskLow
}

func intersects(changed, set []string) bool {
	for _, c := range changed {
		for _, s := range set {
			if c == s {
				return true
			}
		}
	}
	return false
}
