package redisstreams

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmkit/domain/audited"
	"crmkit/logging"
	"crmkit/notify"
)

type fakeClient struct {
	added  []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1700000000000-0", nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func event() notify.Event {
	return notify.NewEvent(&audited.Record{
		ID:        "a1",
		Operation: audited.OpDelete,
		TableName: "tickets",
		EntityID:  9,
		RiskLevel: audited.RiskHigh,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestPublisher_Publish(t *testing.T) {
	fc := &fakeClient{}
	p := newPublisher(Config{MaxLen: 1000, Logger: logging.NewNoopLogger()}, fc, false)

	require.NoError(t, p.Publish(context.Background(), event()))
	require.Len(t, fc.added, 1)

	args := fc.added[0]
	assert.Equal(t, "crmkit:audit", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]any)
	assert.Equal(t, "tickets.delete", values["type"])
	assert.Equal(t, "9", values["entity_id"])
	assert.Equal(t, "high", values["risk"])

	decoded, err := notify.Decode([]byte(values["payload"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "a1", decoded.ID)
	assert.Equal(t, audited.OpDelete, decoded.Record.Operation)

	// 非自建客户端不关闭
	require.NoError(t, p.Close())
	assert.False(t, fc.closed)
}

func TestPublisher_Errors(t *testing.T) {
	fc := &fakeClient{err: errors.New("connection refused")}
	p := newPublisher(Config{MaxPublishConcurrency: 1}, fc, true)
	assert.Error(t, p.Publish(context.Background(), event()))

	// 并发槽被占满时尊重 ctx
	p.pubSem <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Publish(ctx, event()), context.DeadlineExceeded)
	<-p.pubSem

	assert.Error(t, p.Publish(context.Background(), notify.Event{ID: "empty"}))

	require.NoError(t, p.Close())
	assert.True(t, fc.closed)
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	p, err := New(Config{Addr: "127.0.0.1:6379"})
	require.NoError(t, err)
	assert.True(t, p.ownClient)
	require.NoError(t, p.Close())
}
