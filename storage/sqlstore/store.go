// Package sqlstore 是基于 database/sql 的持久化存储后端（PostgreSQL / SQLite）。
package sqlstore

import (
	"context"
	stdErrors "errors"

	core "crmkit/data/db"
	"crmkit/data/db/dialect"
	"crmkit/data/orm"
	ormbasic "crmkit/data/orm/basic"
	"crmkit/data/orm/repo"
	"crmkit/domain/audited"
	"crmkit/domain/entity"
	"crmkit/domain/query"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/storage"
)

// Store 持久化存储
type Store struct {
	db       core.IDatabase
	orm      orm.IOrm
	dialect  dialect.Dialect
	registry *entity.Registry
	logger   logging.Logger
}

var _ storage.Store = (*Store)(nil)

// Option Store 选项
type Option func(*Store)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New 基于已连接的数据库创建存储，Store 接管 db 的生命周期
func New(db core.IDatabase, reg *entity.Registry, opts ...Option) *Store {
	o := ormbasic.New(db)
	s := &Store{
		db:       db,
		orm:      o,
		dialect:  o.Dialect(),
		registry: reg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.ComponentLogger(s.logger, "sqlstore").WithFields(
		logging.String("dialect", string(s.dialect.Name())))
	return s
}

// Kind 返回 durable
func (s *Store) Kind() storage.Kind { return storage.KindDurable }

// Database 返回底层数据库
func (s *Store) Database() core.IDatabase { return s.db }

// Query 在只读快照事务内执行计数与分页读取，保证两次读取看到同一数据版本
func (s *Store) Query(ctx context.Context, cond *query.Condition, cols []entity.Column, win storage.Window) ([]entity.Record, int64, error) {
	sess, err := s.orm.BeginTx(ctx, s.dialect.SnapshotTxOptions())
	if err != nil {
		return nil, 0, errors.Normalize(err, "begin read snapshot")
	}
	defer func() { _ = sess.Rollback() }()

	r := repo.New(sess, cond.Entity)
	total, err := r.Count(ctx, cond)
	if err != nil {
		return nil, 0, errors.Normalize(err, "count "+cond.Entity.Table)
	}

	recs := []entity.Record{}
	if total > 0 {
		recs, err = r.Find(ctx, cond, cols, win.Offset, win.Limit)
		if err != nil {
			return nil, 0, errors.Normalize(err, "query "+cond.Entity.Table)
		}
	}
	if err := sess.Commit(); err != nil {
		return nil, 0, errors.Normalize(err, "end read snapshot")
	}
	return recs, total, nil
}

// Begin 开启写事务
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	sess, err := s.orm.Begin(ctx)
	if err != nil {
		return nil, errors.Normalize(err, "begin transaction")
	}
	return &tx{sess: sess}, nil
}

// Verify 逐表读取一行全列数据，任何缺表/缺列都会失败
func (s *Store) Verify(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return errors.Normalize(err, "ping database")
	}
	for _, d := range s.registry.Descriptors() {
		if err := repo.New(s.orm, d).Probe(ctx); err != nil {
			return errors.WrapError(err, errors.ErrCodeBackendUnavailable, "verify entity table").
				WithContext("table", d.Table)
		}
	}
	if _, err := s.orm.Model(auditMeta).Find(ctx, orm.WithLimit(1)); err != nil {
		return errors.WrapError(err, errors.ErrCodeBackendUnavailable, "verify audit table").
			WithContext("table", auditMeta.Table)
	}
	s.logger.Info(ctx, "durable store verified", logging.Int("entities", len(s.registry.Names())))
	return nil
}

// AuditTrail 按写入顺序读取某实体的审计记录
func (s *Store) AuditTrail(ctx context.Context, table string, entityID int64, offset, limit int) ([]*audited.Record, error) {
	opts := []orm.QueryOption{
		orm.WithWhere(s.dialect.QuoteIdentifier("table_name")+" = ?", table),
		orm.WithWhere(s.dialect.QuoteIdentifier("entity_id")+" = ?", entityID),
		orm.WithOrderBy("seq", false),
		orm.WithOffset(offset),
		orm.WithLimit(limit),
	}
	rows, err := s.orm.Model(auditMeta).Find(ctx, opts...)
	if err != nil {
		return nil, errors.Normalize(err, "read audit trail")
	}
	out := make([]*audited.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.decodeAudit(row)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInternal, "decode audit record")
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

// tx 写事务
type tx struct {
	sess orm.IOrmSession
}

func (t *tx) Get(ctx context.Context, desc *entity.Descriptor, id int64) (entity.Record, error) {
	rec, err := repo.New(t.sess, desc).Get(ctx, id, true)
	if stdErrors.Is(err, repo.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Normalize(err, "read "+desc.Table)
	}
	return rec, nil
}

func (t *tx) Insert(ctx context.Context, desc *entity.Descriptor, rec entity.Record) error {
	if err := repo.New(t.sess, desc).Insert(ctx, rec); err != nil {
		return errors.Normalize(err, "insert "+desc.Table)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, desc *entity.Descriptor, id int64, values entity.Record) error {
	err := repo.New(t.sess, desc).Update(ctx, id, values)
	if stdErrors.Is(err, repo.ErrNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return errors.Normalize(err, "update "+desc.Table)
	}
	return nil
}

func (t *tx) AppendAudit(ctx context.Context, rec *audited.Record) error {
	row, err := encodeAudit(rec)
	if err != nil {
		return err
	}
	return t.sess.Model(auditMeta).Create(ctx, row)
}

func (t *tx) Commit() error {
	if err := t.sess.Commit(); err != nil {
		return errors.Normalize(err, "commit")
	}
	return nil
}

func (t *tx) Rollback() error { return t.sess.Rollback() }
