package dialect

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRebind_Postgres(t *testing.T) {
	d := New("postgres")
	q := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"
	got := d.Rebind(q)
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Fatalf("Rebind mismatch\nwant: %s\ngot:  %s", want, got)
	}
}

func TestRebind_NoChangeForSQLite(t *testing.T) {
	tests := []struct {
		name string
		d    Dialect
	}{
		{"sqlite", New("sqlite")},
		{"sqlite3", New("sqlite3")},
		{"unknown", New("unknown")},
	}

	orig := "UPDATE t SET a = ? WHERE id = ?"
	for _, tt := range tests {
		if got := tt.d.Rebind(orig); got != orig {
			t.Fatalf("%s: expected no change, got %s", tt.name, got)
		}
	}
}

func TestDialect_QuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"leads"."created_at"`, New("sqlite").QuoteIdentifier("leads.created_at"))
	assert.Equal(t, `"audit_logs"`, New("postgres").QuoteIdentifier("audit_logs"))
	assert.Equal(t, "plain", New("").QuoteIdentifier("plain"))
}

func TestDialect_DriverNames(t *testing.T) {
	assert.Equal(t, "sqlite", New("sqlite3").DriverName())
	assert.Equal(t, "sqlite3", New("sqlite").MigrationDialect())
	assert.Equal(t, "postgres", New("postgresql").DriverName())
	assert.Equal(t, "postgres", New("pq").MigrationDialect())
	assert.Equal(t, "", New("oracle").DriverName())
}

func TestDialect_ForUpdateAndSnapshot(t *testing.T) {
	pg := New("postgres")
	assert.True(t, pg.SupportsForUpdate())
	opts := pg.SnapshotTxOptions()
	if assert.NotNil(t, opts) {
		assert.Equal(t, sql.LevelRepeatableRead, opts.Isolation)
		assert.True(t, opts.ReadOnly)
	}

	lite := New("sqlite")
	assert.False(t, lite.SupportsForUpdate())
	assert.Nil(t, lite.SnapshotTxOptions())
}

func TestDialect_Contains(t *testing.T) {
	lite := New("sqlite")
	assert.Equal(t, `LOWER(CAST("title" AS TEXT)) LIKE ? ESCAPE '\'`, lite.ContainsExpr(`"title"`))
	assert.Equal(t, `%50\% off\_now%`, lite.LikePattern("50% OFF_now"))

	pg := New("postgres")
	assert.Equal(t, `CAST("title" AS TEXT) ILIKE ? ESCAPE '\'`, pg.ContainsExpr(`"title"`))
	assert.Equal(t, `%Acme%`, pg.LikePattern("Acme"))
}

func TestDialect_OrderDirection(t *testing.T) {
	pg := New("postgres")
	assert.Equal(t, " ASC NULLS FIRST", pg.OrderDirection(false))
	assert.Equal(t, " DESC NULLS LAST", pg.OrderDirection(true))

	lite := New("sqlite")
	assert.Equal(t, " ASC", lite.OrderDirection(false))
	assert.Equal(t, " DESC", lite.OrderDirection(true))
}

func TestDialect_TimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 9, 8, 7, 6, 123456000, time.FixedZone("CST", 8*3600))

	lite := New("sqlite")
	stored := lite.TimeValue(ts)
	assert.Equal(t, "2024-03-09T00:07:06.123456Z", stored)
	got, ok := lite.ParseTime(stored)
	assert.True(t, ok)
	assert.True(t, got.Equal(ts))

	got, ok = lite.ParseTime([]byte("2024-03-09T00:07:06.123456Z"))
	assert.True(t, ok)
	assert.Equal(t, time.UTC, got.Location())

	pg := New("postgres")
	pgStored, isTime := pg.TimeValue(ts).(time.Time)
	assert.True(t, isTime)
	assert.Equal(t, time.UTC, pgStored.Location())

	_, ok = lite.ParseTime(42)
	assert.False(t, ok)
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	assert.True(t, New("sqlite").IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: leads.id (1555)")))
	assert.True(t, New("postgres").IsUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "leads_pkey"`)))
	assert.False(t, New("sqlite").IsUniqueViolation(errors.New("no such table: leads")))
	assert.False(t, New("sqlite").IsUniqueViolation(nil))
}
