package lifecycle

import (
	"bytes"
	"context"
	stdErrors "errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmkit/codegen/snowflake"
	"crmkit/domain/audited"
	"crmkit/domain/entity"
	"crmkit/domain/query"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/monitoring"
	"crmkit/notify"
	"crmkit/storage"
	"crmkit/storage/memstore"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 123456789, time.UTC)

// auditFailStore 审计写入总是失败的存储
type auditFailStore struct {
	storage.Store
}

func (s auditFailStore) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return auditFailTx{Tx: tx}, nil
}

type auditFailTx struct {
	storage.Tx
}

func (auditFailTx) AppendAudit(ctx context.Context, rec *audited.Record) error {
	return stdErrors.New("disk full")
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, e notify.Event) error {
	return stdErrors.New("broker unreachable")
}
func (failingPublisher) Close() error { return nil }

type fixture struct {
	svc     *Service
	store   *memstore.Store
	events  *notify.Memory
	metrics *monitoring.Metrics
	reg     *prometheus.Registry
	stages  []Stage
	mu      sync.Mutex
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := entity.Default()
	f := &fixture{
		store:  memstore.New(reg, memstore.WithLogger(logging.NewNoopLogger())),
		events: notify.NewMemory(),
		reg:    prometheus.NewRegistry(),
	}
	f.metrics = monitoring.NewMetrics(f.reg)
	gen, err := snowflake.NewGenerator(1, 1)
	require.NoError(t, err)

	base := []Option{
		WithLogger(logging.NewNoopLogger()),
		WithClock(func() time.Time { return fixedNow }),
		WithPublisher(f.events),
		WithMetrics(f.metrics),
		WithStageHook(func(ctx context.Context, tr Transition) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.stages = append(f.stages, tr.Stage)
		}),
	}
	f.svc = NewService(f.store, reg, gen, append(base, opts...)...)
	return f
}

func (f *fixture) resetStages() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = nil
}

func (f *fixture) trail(t *testing.T, name string, id int64) []*audited.Record {
	t.Helper()
	recs, err := f.svc.AuditTrail(context.Background(), name, id, 0, 0)
	require.NoError(t, err)
	return recs
}

// counter 读取带指定标签的计数器值
func (f *fixture) counter(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	want := make(map[string]string, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		want[labels[i]] = labels[i+1]
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func (f *fixture) countActive(t *testing.T) int64 {
	t.Helper()
	c := query.NewCompiler(entity.Default())
	cond, err := c.Compile(string(entity.ServiceOrders), nil, nil, "")
	require.NoError(t, err)
	_, total, err := f.store.Query(context.Background(), cond, nil, storage.Window{})
	require.NoError(t, err)
	return total
}

func order() map[string]any {
	return map[string]any{"title": "Pump repair", "category": "maintenance", "budget": 1200}
}

var alice = audited.Actor{UserID: "u-1", UserName: "Alice", UserRole: "agent", IPAddress: "10.0.0.1", Reason: "customer call"}

func TestService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, "service_orders", order(), alice)
	require.NoError(t, err)

	id := rec.ID()
	assert.Positive(t, id)
	assert.False(t, rec.IsDeleted())
	assert.Equal(t, "Pump repair", rec["title"])
	assert.Equal(t, float64(1200), rec["budget"])
	assert.Nil(t, rec["status"])
	assert.Equal(t, "u-1", rec[entity.FieldCreatedBy])
	assert.Equal(t, "u-1", rec[entity.FieldUpdatedBy])
	assert.Equal(t, fixedNow.Truncate(time.Microsecond), rec[entity.FieldCreatedAt])

	assert.Equal(t, []Stage{StageStarted, StageBusinessWriteApplied, StageAuditWritten, StageCommitted}, f.stages)

	trail := f.trail(t, "service_orders", id)
	require.Len(t, trail, 1)
	assert.Equal(t, audited.OpCreate, trail[0].Operation)
	assert.Equal(t, audited.RiskLow, trail[0].RiskLevel)
	assert.Nil(t, trail[0].OldValues)
	assert.Equal(t, "Pump repair", trail[0].NewValues["title"])
	assert.Equal(t, "customer call", trail[0].Reason)

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "service_orders.create", events[0].Type)
	assert.Equal(t, trail[0].ID, events[0].ID)

	assert.Equal(t, 1.0, f.counter(t, "crmkit_mutations_total", "entity", "service_orders", "operation", "create", "risk", "low"))
}

func TestService_CreateSystemActor(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Create(context.Background(), "service_orders", order(), audited.Actor{})
	require.NoError(t, err)
	assert.Equal(t, audited.SystemActor, rec[entity.FieldCreatedBy])
}

func TestService_CreateRejectsPayload(t *testing.T) {
	tests := []struct {
		name    string
		entity  string
		payload map[string]any
		kind    string
		field   string
	}{
		{"unknown entity", "widgets", order(), errors.KindUnknownEntity, ""},
		{"unknown field", "service_orders", map[string]any{"title": "a", "category": "b", "colour": "red"}, errors.KindUnknownField, "colour"},
		{"system field", "service_orders", map[string]any{"title": "a", "category": "b", "createdBy": "mallory"}, errors.KindMalformed, "createdBy"},
		{"lifecycle field", "service_orders", map[string]any{"title": "a", "category": "b", "isDeleted": true}, errors.KindMalformed, "isDeleted"},
		{"bad type", "service_orders", map[string]any{"title": "a", "category": "b", "budget": "lots"}, errors.KindMalformed, "budget"},
		{"nan budget", "service_orders", map[string]any{"title": "a", "category": "b", "budget": "NaN"}, errors.KindMalformed, "budget"},
		{"infinite budget", "service_orders", map[string]any{"title": "a", "category": "b", "budget": math.Inf(1)}, errors.KindMalformed, "budget"},
		{"missing required", "service_orders", map[string]any{"title": "a"}, errors.KindMalformed, "category"},
		{"blank required", "service_orders", map[string]any{"title": "  ", "category": "b"}, errors.KindMalformed, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tt.entity, tt.payload, alice)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Equal(t, tt.kind, errors.Detail(err, "kind"))
			if tt.field != "" {
				assert.Equal(t, tt.field, errors.Detail(err, "field"))
			}
			assert.Empty(t, f.events.Events())
			assert.Zero(t, f.countActive(t))
		})
	}
}

func TestService_UpdateAuditsChangedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, "service_orders", order(), alice)
	require.NoError(t, err)
	id := rec.ID()

	bob := audited.Actor{UserID: "u-2"}
	tests := []struct {
		name  string
		patch map[string]any
		risk  audited.RiskLevel
	}{
		{"budget is critical", map[string]any{"budget": 1500}, audited.RiskCritical},
		{"status is high", map[string]any{"status": "scheduled"}, audited.RiskHigh},
		{"few fields are low", map[string]any{"description": "replace seal"}, audited.RiskLow},
		{"many fields are medium", map[string]any{"title": "Pump overhaul", "customerName": "ACME", "customerEmail": "ops@acme.test", "description": "full rebuild"}, audited.RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated, err := f.svc.Update(ctx, "service_orders", id, tt.patch, bob)
			require.NoError(t, err)
			assert.Equal(t, "u-2", updated[entity.FieldUpdatedBy])
			assert.Equal(t, "u-1", updated[entity.FieldCreatedBy])

			trail := f.trail(t, "service_orders", id)
			last := trail[len(trail)-1]
			assert.Equal(t, audited.OpUpdate, last.Operation)
			assert.Equal(t, tt.risk, last.RiskLevel)
			assert.Len(t, last.ChangedFields, len(tt.patch))
			assert.Equal(t, "u-2", last.UserID)
		})
	}
}

func TestService_UpdateNoOpPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, "service_orders", order(), alice)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, "service_orders", rec.ID(), map[string]any{"title": "Pump repair"}, alice)
	require.NoError(t, err)
	trail := f.trail(t, "service_orders", rec.ID())
	require.Len(t, trail, 2)
	assert.Empty(t, trail[1].ChangedFields)
	assert.Equal(t, audited.RiskLow, trail[1].RiskLevel)

	_, err = f.svc.Update(ctx, "service_orders", rec.ID(), map[string]any{}, alice)
	assert.True(t, errors.IsValidation(err))
}

func TestService_DeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, "service_orders", order(), alice)
	require.NoError(t, err)
	id := rec.ID()

	ok, err := f.svc.Delete(ctx, "service_orders", id, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, f.countActive(t))

	// 已删除的实体不可再更新或删除
	_, err = f.svc.Update(ctx, "service_orders", id, map[string]any{"status": "x"}, alice)
	assert.True(t, errors.IsNotFoundOrDeleted(err))
	assert.Equal(t, errors.ReasonDeleted, errors.Detail(err, "reason"))
	_, err = f.svc.Delete(ctx, "service_orders", id, alice)
	assert.True(t, errors.IsNotFoundOrDeleted(err))

	restored, err := f.svc.Restore(ctx, "service_orders", id, alice)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted())
	assert.Equal(t, "Pump repair", restored["title"])
	assert.Equal(t, int64(1), f.countActive(t))

	_, err = f.svc.Restore(ctx, "service_orders", id, alice)
	assert.True(t, errors.IsNotFoundOrNotDeleted(err))
	assert.Equal(t, errors.ReasonActive, errors.Detail(err, "reason"))

	trail := f.trail(t, "service_orders", id)
	require.Len(t, trail, 3)
	assert.Equal(t, audited.OpDelete, trail[1].Operation)
	assert.Equal(t, audited.RiskHigh, trail[1].RiskLevel)
	assert.Equal(t, false, trail[1].OldValues[entity.FieldIsDeleted])
	assert.Equal(t, true, trail[1].NewValues[entity.FieldIsDeleted])
	assert.Equal(t, audited.OpRestore, trail[2].Operation)
	assert.Equal(t, audited.RiskLow, trail[2].RiskLevel)

	types := make([]string, 0, 3)
	for _, e := range f.events.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"service_orders.create", "service_orders.delete", "service_orders.restore"}, types)
}

func TestService_MissingEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, "service_orders", 42, map[string]any{"status": "x"}, alice)
	assert.True(t, errors.IsNotFoundOrDeleted(err))
	assert.Equal(t, errors.ReasonMissing, errors.Detail(err, "reason"))

	ok, err := f.svc.Delete(ctx, "service_orders", 42, alice)
	assert.False(t, ok)
	assert.True(t, errors.IsNotFoundOrDeleted(err))

	_, err = f.svc.Restore(ctx, "service_orders", 42, alice)
	assert.True(t, errors.IsNotFoundOrNotDeleted(err))
	assert.Equal(t, errors.ReasonMissing, errors.Detail(err, "reason"))

	_, err = f.svc.Delete(ctx, "service_orders", 0, alice)
	assert.True(t, errors.IsValidation(err))

	assert.Empty(t, f.trail(t, "service_orders", 42))
	assert.Equal(t, StageAborted, f.stages[len(f.stages)-1])
	assert.Equal(t, 1.0, f.counter(t, "crmkit_mutations_aborted_total", "entity", "service_orders", "operation", "delete", "stage", "started"))
}

func TestService_AuditWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, "service_orders", order(), alice)
	require.NoError(t, err)
	id := rec.ID()

	reg := entity.Default()
	gen, err := snowflake.NewGenerator(1, 2)
	require.NoError(t, err)
	broken := NewService(auditFailStore{Store: f.store}, reg, gen,
		WithLogger(logging.NewNoopLogger()),
		WithPublisher(f.events),
		WithMetrics(f.metrics))

	_, err = broken.Create(ctx, "service_orders", order(), alice)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeAuditWrite))
	assert.Equal(t, int64(1), f.countActive(t))

	_, err = broken.Update(ctx, "service_orders", id, map[string]any{"title": "changed"}, alice)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeAuditWrite))

	ok, err := broken.Delete(ctx, "service_orders", id, alice)
	assert.False(t, ok)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeAuditWrite))

	// 业务写入一并回滚
	trail := f.trail(t, "service_orders", id)
	require.Len(t, trail, 1)
	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	cur, err := tx.Get(ctx, reg.MustLookup(entity.ServiceOrders), id)
	require.NoError(t, err)
	assert.Equal(t, "Pump repair", cur["title"])
	assert.False(t, cur.IsDeleted())

	assert.Len(t, f.events.Events(), 1)
	assert.Equal(t, 1.0, f.counter(t, "crmkit_mutations_aborted_total", "entity", "service_orders", "operation", "update", "stage", "business_write_applied"))
}

func TestService_NotifyFailureDoesNotFailMutation(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t,
		WithPublisher(failingPublisher{}),
		WithLogger(logging.NewStdLogger("", logging.WithWriter(&buf))))

	rec, err := f.svc.Create(context.Background(), "service_orders", order(), alice)
	require.NoError(t, err)
	assert.Len(t, f.trail(t, "service_orders", rec.ID()), 1)
	assert.Contains(t, buf.String(), "publish audit event failed")
	assert.Equal(t, 1.0, f.counter(t, "crmkit_audit_notify_failures_total", "entity", "service_orders"))
}

func TestService_ConcurrentUpdatesSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, "service_orders", order(), alice)
	require.NoError(t, err)
	f.resetStages()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Update(ctx, "service_orders", rec.ID(), map[string]any{"budget": 100 + i}, alice)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	trail := f.trail(t, "service_orders", rec.ID())
	require.Len(t, trail, 11)
	// 每条更新审计的旧值等于上一条的新值
	for i := 2; i < len(trail); i++ {
		assert.Equal(t, trail[i-1].NewValues["budget"], trail[i].OldValues["budget"])
	}
}

func TestService_AuditTrailPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, "service_orders", order(), alice)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := f.svc.Update(ctx, "service_orders", rec.ID(), map[string]any{"budget": i}, alice)
		require.NoError(t, err)
	}

	page, err := f.svc.AuditTrail(ctx, "service_orders", rec.ID(), 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, audited.OpUpdate, page[0].Operation)

	_, err = f.svc.AuditTrail(ctx, "widgets", rec.ID(), 0, 10)
	assert.True(t, errors.IsValidation(err))
}
