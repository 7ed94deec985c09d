package natsjs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmkit/domain/audited"
	"crmkit/logging"
	"crmkit/notify"
)

type published struct {
	subject string
	data    []byte
}

type fakeJS struct {
	streams   map[string]*nats.StreamConfig
	published []published
	infoErr   error
	pubErr    error
}

func newFakeJS() *fakeJS {
	return &fakeJS{streams: map[string]*nats.StreamConfig{}}
}

func (f *fakeJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.pubErr != nil {
		return nil, f.pubErr
	}
	f.published = append(f.published, published{subject: subj, data: data})
	return &nats.PubAck{Stream: "CRMKIT_AUDIT", Sequence: uint64(len(f.published))}, nil
}

func (f *fakeJS) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	cfg, ok := f.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJS) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func sampleEvent() notify.Event {
	return notify.NewEvent(&audited.Record{
		ID:        "b2",
		Operation: audited.OpRestore,
		TableName: "leads",
		EntityID:  3,
		RiskLevel: audited.RiskLow,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestPublisher_CreatesStream(t *testing.T) {
	js := newFakeJS()
	_, err := newWithJetStream(Config{MaxAge: time.Hour, Logger: logging.NewNoopLogger()}, js)
	require.NoError(t, err)

	cfg, ok := js.streams["CRMKIT_AUDIT"]
	require.True(t, ok)
	assert.Equal(t, []string{"crmkit.audit.>"}, cfg.Subjects)
	assert.Equal(t, time.Hour, cfg.MaxAge)

	// 已存在的流不重复创建
	js.streams["CRMKIT_AUDIT"].MaxAge = 0
	_, err = newWithJetStream(Config{MaxAge: time.Hour}, js)
	require.NoError(t, err)
	assert.Zero(t, js.streams["CRMKIT_AUDIT"].MaxAge)

	_, err = newWithJetStream(Config{}, &fakeJS{infoErr: errors.New("permission denied")})
	assert.Error(t, err)
}

func TestPublisher_Publish(t *testing.T) {
	js := newFakeJS()
	p, err := newWithJetStream(Config{SubjectPrefix: "crm."}, js)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, js.published, 1)
	assert.Equal(t, "crm.leads.restore", js.published[0].subject)

	decoded, err := notify.Decode(js.published[0].data)
	require.NoError(t, err)
	assert.Equal(t, "b2", decoded.ID)
	assert.Equal(t, int64(3), decoded.Record.EntityID)

	js.pubErr = errors.New("no responders")
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))

	require.NoError(t, p.Close())
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))
}
