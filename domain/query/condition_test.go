package query

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmkit/domain/entity"
)

func order(id int64, title string, budget any, deleted bool) entity.Record {
	return entity.Record{
		entity.FieldID:        id,
		entity.FieldIsDeleted: deleted,
		"title":               title,
		"category":            "web",
		"budget":              budget,
		"customerEmail":       nil,
		entity.FieldCreatedAt: time.Date(2024, 1, int(id), 0, 0, 0, 0, time.UTC),
	}
}

func TestCondition_Match(t *testing.T) {
	c := newCompiler()
	rec := order(1, "Mobile App Redesign", 1500.0, false)

	tests := []struct {
		name    string
		filters []Filter
		search  string
		want    bool
	}{
		{name: "无条件", want: true},
		{name: "eq", filters: []Filter{{Field: "category", Operator: OpEq, Value: "web"}}, want: true},
		{name: "eq 不匹配", filters: []Filter{{Field: "category", Operator: OpEq, Value: "mobile"}}, want: false},
		{name: "contains 大小写不敏感", filters: []Filter{{Field: "title", Operator: OpContains, Value: "APP"}}, want: true},
		{name: "gt 跨数值类型", filters: []Filter{{Field: "budget", Operator: OpGt, Value: 1000}}, want: true},
		{name: "lte", filters: []Filter{{Field: "budget", Operator: OpLte, Value: 1500}}, want: true},
		{name: "lt", filters: []Filter{{Field: "budget", Operator: OpLt, Value: 1500}}, want: false},
		{name: "in", filters: []Filter{{Field: "id", Operator: OpIn, Value: []any{"1", "2"}}}, want: true},
		{name: "not_in", filters: []Filter{{Field: "id", Operator: OpNotIn, Value: []int64{1}}}, want: false},
		{name: "is_null", filters: []Filter{{Field: "customerEmail", Operator: OpIsNull}}, want: true},
		{name: "NULL 不满足 not_in", filters: []Filter{{Field: "customerEmail", Operator: OpNotIn, Value: "a@b.c"}}, want: false},
		{name: "搜索命中", search: "redesign", want: true},
		{name: "搜索未命中", search: "ios", want: false},
		{name: "AND 组合", filters: []Filter{
			{Field: "category", Operator: OpEq, Value: "web"},
			{Field: "budget", Operator: OpGte, Value: 2000},
		}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := c.Compile("service_orders", tt.filters, nil, tt.search)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cond.Match(rec))
		})
	}
}

func TestCondition_MatchScope(t *testing.T) {
	c := newCompiler()
	active := order(1, "a", nil, false)
	deleted := order(2, "b", nil, true)

	cond, err := c.CompileDescriptor("service_orders", Descriptor{})
	require.NoError(t, err)
	assert.True(t, cond.Match(active))
	assert.False(t, cond.Match(deleted))

	cond, err = c.CompileDescriptor("service_orders", Descriptor{Scope: ScopeDeleted})
	require.NoError(t, err)
	assert.False(t, cond.Match(active))
	assert.True(t, cond.Match(deleted))
}

func TestCondition_Compare(t *testing.T) {
	c := newCompiler()
	records := []entity.Record{
		order(1, "b", 10.0, false),
		order(2, "a", nil, false),
		order(3, "c", 10.0, false),
		order(4, "a", 5.0, false),
	}

	cond, err := c.Compile("service_orders", nil, []Sort{{Field: "budget", Direction: Desc}}, "")
	require.NoError(t, err)
	sort.SliceStable(records, func(i, j int) bool { return cond.Compare(records[i], records[j]) < 0 })

	var ids []int64
	for _, r := range records {
		ids = append(ids, r.ID())
	}
	// 相同 budget 按 id 升序，NULL 视为最小值
	assert.Equal(t, []int64{1, 3, 4, 2}, ids)

	cond, err = c.Compile("service_orders", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, -1, cond.Compare(order(5, "", nil, false), order(4, "", nil, false)), "默认按 createdAt 降序")
}

func TestCompareValues(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 0, CompareValues(nil, nil))
	assert.Equal(t, -1, CompareValues(nil, "a"))
	assert.Equal(t, 1, CompareValues(int64(2), 1.5))
	assert.Equal(t, 0, CompareValues(2.0, int64(2)))
	assert.Equal(t, -1, CompareValues(false, true))
	assert.Equal(t, 1, CompareValues(now.Add(time.Second), now))
	assert.Equal(t, -1, CompareValues("apple", "banana"))
}
