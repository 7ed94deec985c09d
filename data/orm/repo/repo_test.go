package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "crmkit/data/db"
	dbbasic "crmkit/data/db/basic"
	"crmkit/data/db/migrations"
	ormbasic "crmkit/data/orm/basic"
	"crmkit/domain/entity"
	"crmkit/domain/query"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*Repo, *query.Compiler) {
	t.Helper()
	ctx := context.Background()
	db, err := dbbasic.New(ctx, core.DBConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(ctx, db))

	reg := entity.Default()
	r := New(ormbasic.New(db), reg.MustLookup(entity.ServiceOrders))

	seed := []entity.Record{
		{"id": int64(1), "title": "Mobile App", "category": "mobile", "budget": 1500.0, "urgent": true, "customerEmail": "ann@example.com"},
		{"id": int64(2), "title": "Web Shop", "category": "web", "budget": 900.0, "urgent": false},
		{"id": int64(3), "title": "Landing 50% off", "category": "web", "budget": nil, "urgent": false},
		{"id": int64(4), "title": "Old Portal", "category": "web", "budget": 100.0, "urgent": false, "isDeleted": true},
	}
	for i, rec := range seed {
		if _, ok := rec["isDeleted"]; !ok {
			rec["isDeleted"] = false
		}
		entity.Stamp(rec, "seed", base.Add(time.Duration(i)*time.Hour), true)
		require.NoError(t, r.Insert(ctx, rec))
	}
	return r, query.NewCompiler(reg)
}

func ids(recs []entity.Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}

func TestRepo_GetRoundTrip(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	rec, err := r.Get(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "Mobile App", rec["title"])
	assert.Equal(t, 1500.0, rec["budget"])
	assert.Equal(t, true, rec["urgent"])
	assert.Equal(t, false, rec["isDeleted"])
	assert.Nil(t, rec["description"])
	assert.True(t, base.Equal(rec["createdAt"].(time.Time)))

	_, err = r.Get(ctx, 99, false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRepo_FindRendersCondition(t *testing.T) {
	r, c := setupRepo(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters []Filter
		search  string
		sorts   []query.Sort
		want    []int64
	}{
		{name: "默认排除已删除，createdAt 降序", want: []int64{3, 2, 1}},
		{name: "eq", filters: []Filter{{Field: "category", Operator: query.OpEq, Value: "web"}}, want: []int64{3, 2}},
		{name: "gte 数值", filters: []Filter{{Field: "budget", Operator: query.OpGte, Value: 900}}, want: []int64{2, 1}},
		{name: "is_null", filters: []Filter{{Field: "budget", Operator: query.OpIsNull}}, want: []int64{3}},
		{name: "in", filters: []Filter{{Field: "id", Operator: query.OpIn, Value: []int64{1, 3, 4}}}, want: []int64{3, 1}},
		{name: "not_in", filters: []Filter{{Field: "category", Operator: query.OpNotIn, Value: []string{"web"}}}, want: []int64{1}},
		{name: "布尔", filters: []Filter{{Field: "urgent", Operator: query.OpEq, Value: true}}, want: []int64{1}},
		{name: "时间比较", filters: []Filter{{Field: "createdAt", Operator: query.OpGt, Value: base}}, want: []int64{3, 2}},
		{name: "contains 大小写不敏感", filters: []Filter{{Field: "title", Operator: query.OpContains, Value: "SHOP"}}, want: []int64{2}},
		{name: "LIKE 通配符被转义", filters: []Filter{{Field: "title", Operator: query.OpContains, Value: "50%"}}, want: []int64{3}},
		{name: "搜索跨列", search: "ANN@", want: []int64{1}},
		{name: "自定义排序", sorts: []query.Sort{{Field: "budget", Direction: query.Desc}}, want: []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := c.Compile("service_orders", tt.filters, tt.sorts, tt.search)
			require.NoError(t, err)

			recs, err := r.Find(ctx, cond, nil, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(recs))

			n, err := r.Count(ctx, cond)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.want)), n)

			// 与内存求值一致
			for _, rec := range recs {
				assert.True(t, cond.Match(rec))
			}
		})
	}
}

// Filter 测试中的简写
type Filter = query.Filter

func TestRepo_FindDeletedScopeAndProjection(t *testing.T) {
	r, c := setupRepo(t)
	ctx := context.Background()

	cond, err := c.CompileDescriptor("service_orders", query.Descriptor{Scope: query.ScopeDeleted})
	require.NoError(t, err)
	title, _ := r.Descriptor().Column("title")
	recs, err := r.Find(ctx, cond, []entity.Column{title}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []entity.Record{{"title": "Old Portal"}}, recs)

	cond, err = c.Compile("service_orders", nil, []query.Sort{{Field: "id"}}, "")
	require.NoError(t, err)
	recs, err = r.Find(ctx, cond, nil, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(recs))
}

func TestRepo_Update(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()
	later := base.Add(24 * time.Hour)

	require.NoError(t, r.Update(ctx, 2, entity.Record{"category": "mobile", "updatedAt": later, "isDeleted": true}))
	rec, err := r.Get(ctx, 2, false)
	require.NoError(t, err)
	assert.Equal(t, "mobile", rec["category"])
	assert.Equal(t, true, rec["isDeleted"])
	assert.True(t, later.Equal(rec["updatedAt"].(time.Time)))

	assert.True(t, errors.Is(r.Update(ctx, 99, entity.Record{"title": "x"}), ErrNotFound))
	assert.Error(t, r.Update(ctx, 2, entity.Record{"ghost": 1}))
	assert.Error(t, r.Insert(ctx, entity.Record{"id": int64(9), "ghost": 1}))
	assert.NoError(t, r.Probe(ctx))
}
