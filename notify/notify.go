// Package notify 在变更提交后发布审计通知。
//
// 发布发生在事务之外，失败只记录日志，不影响已提交的变更。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"crmkit/domain/audited"
)

// Event 审计通知
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Record    *audited.Record `json:"record"`
}

// NewEvent 由已提交的审计记录构造通知，ID 与审计记录一致便于下游去重
func NewEvent(rec *audited.Record) Event {
	return Event{
		ID:        rec.ID,
		Type:      TypeOf(rec.TableName, rec.Operation),
		Timestamp: rec.CreatedAt,
		Record:    rec,
	}
}

// TypeOf 通知类型：<table>.<operation>
func TypeOf(table string, op audited.Operation) string {
	return table + "." + string(op)
}

// Publisher 通知发布者
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// wire 线上格式
type wire struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Record    json.RawMessage `json:"record"`
}

// Encode 序列化通知，时间戳为 UnixNano
func Encode(e Event) ([]byte, error) {
	if e.Record == nil {
		return nil, fmt.Errorf("notify: event %s has no audit record", e.ID)
	}
	record, err := json.Marshal(e.Record)
	if err != nil {
		return nil, err
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wire{ID: e.ID, Type: e.Type, Timestamp: ts.UnixNano(), Record: record})
}

// Decode 反序列化通知；快照值按 JSON 语义解码（数字为 float64，时间为字符串）
func Decode(data []byte) (Event, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, err
	}
	rec := &audited.Record{}
	if len(w.Record) > 0 {
		if err := json.Unmarshal(w.Record, rec); err != nil {
			return Event{}, err
		}
	}
	return Event{
		ID:        w.ID,
		Type:      w.Type,
		Timestamp: time.Unix(0, w.Timestamp).UTC(),
		Record:    rec,
	}, nil
}

// Noop 丢弃所有通知
type Noop struct{}

func (Noop) Publish(ctx context.Context, e Event) error { return nil }
func (Noop) Close() error                               { return nil }

// Memory 在进程内保存通知，用于测试与本地开发
type Memory struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemory 创建内存发布者
func NewMemory() *Memory {
	return &Memory{}
}

// Publish 追加通知
func (m *Memory) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("notify: memory publisher closed")
	}
	m.events = append(m.events, e)
	return nil
}

// Events 返回已发布通知的副本
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close 关闭后拒绝发布
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
