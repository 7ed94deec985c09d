// Package storetest 提供 storage.Store 实现的一致性测试套件。
package storetest

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmkit/domain/audited"
	"crmkit/domain/entity"
	"crmkit/domain/query"
	"crmkit/storage"
)

// Factory 为每个子测试创建一个空的存储
type Factory func(t *testing.T, reg *entity.Registry) storage.Store

var epoch = time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)

// Run 运行一致性测试
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store, c *query.Compiler)
	}{
		{"CommitMakesWritesVisible", testCommit},
		{"RollbackDiscardsWrites", testRollback},
		{"GetMissing", testGetMissing},
		{"PaginationAndTotal", testPagination},
		{"ScopeAndProjection", testScopeAndProjection},
		{"AuditTrailOrder", testAuditTrail},
		{"Verify", testVerify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := entity.Default()
			s := newStore(t, reg)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s, query.NewCompiler(reg))
		})
	}
}

// Order 构造一条完整的 service_orders 记录
func Order(id int64, title, category string, at time.Time) entity.Record {
	rec := entity.Record{
		entity.FieldID:        id,
		"title":               title,
		"category":            category,
		entity.FieldIsDeleted: false,
	}
	entity.Stamp(rec, "seed", at, true)
	return rec
}

// Seed 在单个事务中写入记录
func Seed(t *testing.T, s storage.Store, recs ...entity.Record) {
	t.Helper()
	ctx := context.Background()
	desc := entity.Default().MustLookup(entity.ServiceOrders)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, tx.Insert(ctx, desc, r))
	}
	require.NoError(t, tx.Commit())
}

func mustCompile(t *testing.T, c *query.Compiler, d query.Descriptor) *query.Condition {
	t.Helper()
	cond, err := c.CompileDescriptor(string(entity.ServiceOrders), d)
	require.NoError(t, err)
	return cond
}

func testCommit(t *testing.T, s storage.Store, c *query.Compiler) {
	ctx := context.Background()
	Seed(t, s, Order(1, "Mobile App", "mobile", epoch))

	recs, total, err := s.Query(ctx, mustCompile(t, c, query.Descriptor{}), nil, storage.Window{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, recs, 1)
	assert.Equal(t, "Mobile App", recs[0]["title"])
	assert.True(t, epoch.Equal(recs[0][entity.FieldCreatedAt].(time.Time)))

	desc := entity.Default().MustLookup(entity.ServiceOrders)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	got, err := tx.Get(ctx, desc, 1)
	require.NoError(t, err)
	assert.Equal(t, "mobile", got["category"])
	require.NoError(t, tx.Update(ctx, desc, 1, entity.Record{"category": "web"}))
	assert.True(t, stdErrors.Is(tx.Update(ctx, desc, 42, entity.Record{"category": "web"}), storage.ErrNotFound))
	require.NoError(t, tx.Commit())

	recs, _, err = s.Query(ctx, mustCompile(t, c, query.Descriptor{
		Filters: []query.Filter{{Field: "category", Operator: query.OpEq, Value: "web"}},
	}), nil, storage.Window{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func testRollback(t *testing.T, s storage.Store, _ *query.Compiler) {
	ctx := context.Background()
	desc := entity.Default().MustLookup(entity.ServiceOrders)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, desc, Order(7, "Draft", "web", epoch)))
	require.NoError(t, tx.AppendAudit(ctx, &audited.Record{
		ID: "00000000-0000-4000-8000-000000000001", Operation: audited.OpCreate, TableName: desc.Table,
		EntityID: 7, NewValues: entity.Record{"title": "Draft"}, RiskLevel: audited.RiskLow, CreatedAt: epoch,
	}))
	require.NoError(t, tx.Rollback())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Get(ctx, desc, 7)
	assert.True(t, stdErrors.Is(err, storage.ErrNotFound))
	require.NoError(t, tx.Rollback())

	trail, err := s.AuditTrail(ctx, desc.Table, 7, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func testGetMissing(t *testing.T, s storage.Store, _ *query.Compiler) {
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Get(ctx, entity.Default().MustLookup(entity.Leads), 1)
	assert.True(t, stdErrors.Is(err, storage.ErrNotFound))
}

func testPagination(t *testing.T, s storage.Store, c *query.Compiler) {
	ctx := context.Background()
	var recs []entity.Record
	for i := 1; i <= 25; i++ {
		recs = append(recs, Order(int64(i), fmt.Sprintf("Order %02d", i), "web", epoch.Add(time.Duration(i)*time.Minute)))
	}
	recs = append(recs, Order(26, "Other", "mobile", epoch))
	Seed(t, s, recs...)

	cond := mustCompile(t, c, query.Descriptor{
		Filters: []query.Filter{{Field: "category", Operator: query.OpEq, Value: "web"}},
	})
	for _, win := range []storage.Window{{Offset: 0, Limit: 10}, {Offset: 20, Limit: 10}, {Offset: 40, Limit: 10}} {
		page, total, err := s.Query(ctx, cond, nil, win)
		require.NoError(t, err)
		assert.Equal(t, int64(25), total, "total 与分页无关")
		assert.Len(t, page, min(10, max(0, 25-win.Offset)))
	}

	page, _, err := s.Query(ctx, cond, nil, storage.Window{Limit: 3})
	require.NoError(t, err)
	// createdAt 降序
	assert.Equal(t, []int64{25, 24, 23}, []int64{page[0].ID(), page[1].ID(), page[2].ID()})
}

func testScopeAndProjection(t *testing.T, s storage.Store, c *query.Compiler) {
	ctx := context.Background()
	deleted := Order(2, "Gone", "web", epoch.Add(time.Hour))
	deleted[entity.FieldIsDeleted] = true
	Seed(t, s, Order(1, "Kept", "web", epoch), deleted)

	desc := entity.Default().MustLookup(entity.ServiceOrders)
	title, _ := desc.Column("title")

	recs, total, err := s.Query(ctx, mustCompile(t, c, query.Descriptor{}), []entity.Column{title}, storage.Window{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, []entity.Record{{"title": "Kept"}}, recs)

	recs, total, err = s.Query(ctx, mustCompile(t, c, query.Descriptor{Scope: query.ScopeDeleted}), []entity.Column{title}, storage.Window{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, []entity.Record{{"title": "Gone"}}, recs)
}

func testAuditTrail(t *testing.T, s storage.Store, _ *query.Compiler) {
	ctx := context.Background()
	desc := entity.Default().MustLookup(entity.ServiceOrders)
	ops := []audited.Operation{audited.OpCreate, audited.OpUpdate, audited.OpDelete, audited.OpRestore}

	for i, op := range ops {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		rec := &audited.Record{
			ID:        fmt.Sprintf("00000000-0000-4000-8000-00000000000%d", i+1),
			Operation: op,
			TableName: desc.Table,
			EntityID:  5,
			NewValues: entity.Record{"title": "T", "budget": 12.5, entity.FieldID: int64(5), entity.FieldUpdatedAt: epoch},
			UserID:    "u1",
			RiskLevel: audited.RiskLow,
			CreatedAt: epoch, // 相同时间戳，顺序由写入顺序决定
		}
		if op == audited.OpUpdate {
			rec.OldValues = entity.Record{"title": "S"}
			rec.ChangedFields = []string{"title"}
		}
		require.NoError(t, tx.AppendAudit(ctx, rec))
		require.NoError(t, tx.Commit())
	}

	trail, err := s.AuditTrail(ctx, desc.Table, 5, 0, 0)
	require.NoError(t, err)
	require.Len(t, trail, 4)
	for i, op := range ops {
		assert.Equal(t, op, trail[i].Operation)
	}
	assert.Nil(t, trail[0].OldValues)
	assert.Equal(t, []string{"title"}, trail[1].ChangedFields)
	assert.Equal(t, "S", trail[1].OldValues["title"])
	assert.Equal(t, int64(5), trail[1].NewValues[entity.FieldID])
	assert.Equal(t, 12.5, trail[1].NewValues["budget"])
	assert.True(t, epoch.Equal(trail[1].NewValues[entity.FieldUpdatedAt].(time.Time)))
	assert.Equal(t, "u1", trail[2].UserID)

	page, err := s.AuditTrail(ctx, desc.Table, 5, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, audited.OpUpdate, page[0].Operation)

	other, err := s.AuditTrail(ctx, desc.Table, 6, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testVerify(t *testing.T, s storage.Store, _ *query.Compiler) {
	assert.NoError(t, s.Verify(context.Background()))
}
