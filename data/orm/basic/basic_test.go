package basic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "crmkit/data/db"
	dbbasic "crmkit/data/db/basic"
	"crmkit/data/orm"
)

var ticketMeta = orm.NewModelMeta("tickets",
	orm.FieldMeta{Name: "id", Column: "id", Kind: orm.KindInt, PrimaryKey: true},
	orm.FieldMeta{Name: "subject", Column: "subject", Kind: orm.KindString},
	orm.FieldMeta{Name: "score", Column: "score", Kind: orm.KindFloat},
	orm.FieldMeta{Name: "isDeleted", Column: "is_deleted", Kind: orm.KindBool},
	orm.FieldMeta{Name: "createdAt", Column: "created_at", Kind: orm.KindTime},
)

func setupOrm(t *testing.T) orm.IOrm {
	t.Helper()
	ctx := context.Background()
	db, err := dbbasic.New(ctx, core.DBConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(ctx, `CREATE TABLE tickets (
		id INTEGER PRIMARY KEY,
		subject TEXT,
		score REAL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`)
	require.NoError(t, err)
	return New(db)
}

func TestModel_CreateAndFind(t *testing.T) {
	o := setupOrm(t)
	ctx := context.Background()
	m := o.Model(ticketMeta)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.Create(ctx,
		orm.Row{"id": int64(1), "subject": "Printer", "score": 1.5, "is_deleted": false, "created_at": created},
		orm.Row{"id": int64(2), "subject": "Laptop", "score": 3.0, "is_deleted": true, "created_at": created.Add(time.Hour)},
	))

	rows, err := m.Find(ctx, orm.WithOrderBy("created_at", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, int64(2), first["id"])
	assert.Equal(t, "Laptop", first["subject"])
	assert.Equal(t, 3.0, first["score"])
	assert.Equal(t, true, first["is_deleted"])
	assert.True(t, created.Add(time.Hour).Equal(first["created_at"].(time.Time)))

	q := o.Dialect().QuoteIdentifier("is_deleted") + " = ?"
	n, err := m.Count(ctx, orm.WithWhere(q, false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestModel_FirstNotFound(t *testing.T) {
	o := setupOrm(t)
	_, err := o.Model(ticketMeta).First(context.Background(), orm.WithWhere(`"id" = ?`, 99))
	assert.True(t, errors.Is(err, orm.ErrNotFound))
}

func TestModel_UnknownColumnsRejected(t *testing.T) {
	o := setupOrm(t)
	ctx := context.Background()
	m := o.Model(ticketMeta)

	_, err := m.Find(ctx, orm.WithSelect("password"))
	assert.True(t, errors.Is(err, orm.ErrUnknownColumn))

	_, err = m.Find(ctx, orm.WithOrderBy("subject; DROP TABLE tickets", false))
	assert.True(t, errors.Is(err, orm.ErrUnknownColumn))

	err = m.Create(ctx, orm.Row{"id": int64(1), "nope": 1})
	assert.True(t, errors.Is(err, orm.ErrUnknownColumn))

	_, err = m.UpdateValues(ctx, map[string]any{"nope": 1}, orm.WithWhere(`"id" = ?`, 1))
	assert.True(t, errors.Is(err, orm.ErrUnknownColumn))
}

func TestModel_UpdateInSession(t *testing.T) {
	o := setupOrm(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, o.Model(ticketMeta).Create(ctx,
		orm.Row{"id": int64(1), "subject": "A", "is_deleted": false, "created_at": now}))

	// 回滚的会话不生效
	s, err := o.Begin(ctx)
	require.NoError(t, err)
	affected, err := s.Model(ticketMeta).UpdateValues(ctx, map[string]any{"subject": "B"}, orm.WithWhere(`"id" = ?`, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	require.NoError(t, s.Rollback())

	row, err := o.Model(ticketMeta).First(ctx, orm.WithWhere(`"id" = ?`, 1), orm.WithSelect("subject"))
	require.NoError(t, err)
	assert.Equal(t, "A", row["subject"])

	// 提交的会话生效
	s, err = o.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Model(ticketMeta).UpdateValues(ctx, map[string]any{"subject": "C"}, orm.WithWhere(`"id" = ?`, 1))
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	row, err = o.Model(ticketMeta).First(ctx, orm.WithWhere(`"id" = ?`, 1))
	require.NoError(t, err)
	assert.Equal(t, "C", row["subject"])
	assert.Nil(t, row["score"])

	_, err = o.Model(ticketMeta).UpdateValues(ctx, map[string]any{"subject": "D"})
	assert.Error(t, err, "无条件更新必须拒绝")
}

func TestFindWithPagination(t *testing.T) {
	o := setupOrm(t)
	ctx := context.Background()
	m := o.Model(ticketMeta)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Create(ctx, orm.Row{
			"id": int64(i), "subject": "s", "is_deleted": false, "created_at": base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rows, err := m.Find(ctx, orm.WithOrderBy("id", false), orm.WithLimit(2), orm.WithOffset(2), orm.WithSelect("id"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0]["id"])
	assert.Equal(t, int64(4), rows[1]["id"])
}
