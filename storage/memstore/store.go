// Package memstore 是进程内的临时存储后端，仅用于非生产环境与测试。
//
// 数据不跨进程重启保留。写事务由一个可被 context 取消的信号量串行化，
// 事务内的修改先暂存，提交时一次性生效。
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crmkit/domain/audited"
	"crmkit/domain/entity"
	"crmkit/domain/query"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/storage"
)

// Store 内存存储
type Store struct {
	registry *entity.Registry
	logger   logging.Logger

	mu     sync.RWMutex
	tables map[string]map[int64]entity.Record // table -> id -> record
	audits []*audited.Record
	closed bool

	writer chan struct{}
}

var _ storage.Store = (*Store)(nil)

// Option Store 选项
type Option func(*Store)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New 创建内存存储，为注册表中的每个实体建表
func New(reg *entity.Registry, opts ...Option) *Store {
	s := &Store{
		registry: reg,
		tables:   make(map[string]map[int64]entity.Record),
		writer:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.ComponentLogger(s.logger, "memstore")
	for _, d := range reg.Descriptors() {
		s.tables[d.Table] = make(map[int64]entity.Record)
	}
	return s
}

// Kind 返回 ephemeral
func (s *Store) Kind() storage.Kind { return storage.KindEphemeral }

// Query 在读锁内完成计数与分页，二者看到同一份数据
func (s *Store) Query(ctx context.Context, cond *query.Condition, cols []entity.Column, win storage.Window) ([]entity.Record, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.Normalize(err, "query "+cond.Entity.Table)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}

	var matched []entity.Record
	for _, rec := range s.tables[cond.Entity.Table] {
		if cond.Match(rec) {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return cond.Compare(matched[i], matched[j]) < 0 })

	total := int64(len(matched))
	start := min(max(win.Offset, 0), len(matched))
	end := len(matched)
	if win.Limit > 0 {
		end = min(start+win.Limit, end)
	}

	out := make([]entity.Record, 0, end-start)
	for _, rec := range matched[start:end] {
		if len(cols) == 0 {
			out = append(out, rec.Clone())
		} else {
			out = append(out, rec.Project(cols))
		}
	}
	return out, total, nil
}

// Begin 获取写信号量并开启事务，ctx 取消时放弃等待
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Normalize(ctx.Err(), "begin transaction")
	}
	s.mu.RLock()
	err := s.checkOpen()
	s.mu.RUnlock()
	if err != nil {
		<-s.writer
		return nil, err
	}
	return &tx{store: s, staged: make(map[string]map[int64]entity.Record)}, nil
}

// Verify 校验注册表中的实体均已建表
func (s *Store) Verify(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, d := range s.registry.Descriptors() {
		if _, ok := s.tables[d.Table]; !ok {
			return errors.NewError(errors.ErrCodeBackendUnavailable, "missing table").WithContext("table", d.Table)
		}
	}
	return nil
}

// AuditTrail 按写入顺序读取审计记录
func (s *Store) AuditTrail(ctx context.Context, table string, entityID int64, offset, limit int) ([]*audited.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := []*audited.Record{}
	skipped := 0
	for _, rec := range s.audits {
		if rec.TableName != table || rec.EntityID != entityID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneAudit(rec))
	}
	return out, nil
}

// Close 关闭存储，之后的调用返回 BACKEND_UNAVAILABLE
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errors.NewError(errors.ErrCodeBackendUnavailable, "memstore is closed")
	}
	return nil
}

// tx 暂存修改的写事务
type tx struct {
	store  *Store
	staged map[string]map[int64]entity.Record
	audits []*audited.Record
	done   bool
}

func (t *tx) current(desc *entity.Descriptor, id int64) (entity.Record, bool) {
	if rec, ok := t.staged[desc.Table][id]; ok {
		return rec, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.tables[desc.Table][id]
	return rec, ok
}

func (t *tx) stage(desc *entity.Descriptor, rec entity.Record) {
	if t.staged[desc.Table] == nil {
		t.staged[desc.Table] = make(map[int64]entity.Record)
	}
	t.staged[desc.Table][rec.ID()] = rec
}

func (t *tx) checkActive() error {
	if t.done {
		return errors.NewError(errors.ErrCodeInternal, "transaction already finished")
	}
	return nil
}

func (t *tx) Get(ctx context.Context, desc *entity.Descriptor, id int64) (entity.Record, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	rec, ok := t.current(desc, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (t *tx) Insert(ctx context.Context, desc *entity.Descriptor, rec entity.Record) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := checkFields(desc, rec); err != nil {
		return err
	}
	if _, exists := t.current(desc, rec.ID()); exists {
		return errors.NewError(errors.ErrCodeBackendUnavailable,
			fmt.Sprintf("duplicate primary key %s.%d", desc.Table, rec.ID()))
	}
	t.stage(desc, rec.Clone())
	return nil
}

func (t *tx) Update(ctx context.Context, desc *entity.Descriptor, id int64, values entity.Record) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := checkFields(desc, values); err != nil {
		return err
	}
	cur, ok := t.current(desc, id)
	if !ok {
		return storage.ErrNotFound
	}
	next := cur.Clone()
	for k, v := range values {
		next[k] = v
	}
	t.stage(desc, next)
	return nil
}

func (t *tx) AppendAudit(ctx context.Context, rec *audited.Record) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if !rec.Operation.Valid() {
		return fmt.Errorf("memstore: invalid audit operation %q", rec.Operation)
	}
	t.audits = append(t.audits, cloneAudit(rec))
	return nil
}

func (t *tx) Commit() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	t.done = true
	defer func() { <-t.store.writer }()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for table, recs := range t.staged {
		if s.tables[table] == nil {
			s.tables[table] = make(map[int64]entity.Record)
		}
		for id, rec := range recs {
			s.tables[table][id] = rec
		}
	}
	s.audits = append(s.audits, t.audits...)
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	t.audits = nil
	<-t.store.writer
	return nil
}

func checkFields(desc *entity.Descriptor, rec entity.Record) error {
	for field := range rec {
		if _, ok := desc.Column(field); !ok {
			return errors.NewError(errors.ErrCodeBackendUnavailable,
				fmt.Sprintf("unknown column %s.%s", desc.Table, field))
		}
	}
	return nil
}

func cloneAudit(rec *audited.Record) *audited.Record {
	cp := *rec
	cp.OldValues = rec.OldValues.Clone()
	cp.NewValues = rec.NewValues.Clone()
	if rec.ChangedFields != nil {
		cp.ChangedFields = append([]string(nil), rec.ChangedFields...)
	}
	return &cp
}
