// Package snowflake 生成按时间递增的 64 位实体 ID（雪花算法）。
//
// 布局：41 位毫秒时间戳（相对 Epoch）| 5 位数据中心 | 5 位工作节点 | 12 位序列号。
package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Epoch 起始时间 2023-01-01 00:00:00 UTC（毫秒）
const Epoch int64 = 1672531200000

const (
	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	MaxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	MaxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	maxSequence     = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampLeftShift = sequenceBits + workerIDBits + datacenterIDBits
)

// ErrClockBackwards 系统时钟回拨
var ErrClockBackwards = errors.New("snowflake: clock moved backwards, refusing to generate id")

// Generator ID 生成器，并发安全
type Generator struct {
	mux           sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
	now           func() int64
}

// Option 生成器选项
type Option func(*Generator)

// WithClock 替换毫秒时钟
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = func() int64 { return now().UnixMilli() }
	}
}

// NewGenerator 创建 ID 生成器
func NewGenerator(datacenterID, workerID int64, opts ...Option) (*Generator, error) {
	if datacenterID < 0 || datacenterID > MaxDatacenterID {
		return nil, fmt.Errorf("snowflake: datacenter id %d out of range [0, %d]", datacenterID, MaxDatacenterID)
	}
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("snowflake: worker id %d out of range [0, %d]", workerID, MaxWorkerID)
	}

	g := &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NextID 生成下一个 ID；同一毫秒内序列号耗尽时等待下一毫秒
func (g *Generator) NextID() (int64, error) {
	g.mux.Lock()
	defer g.mux.Unlock()

	now := g.now()
	if now < g.lastTimestamp {
		return 0, ErrClockBackwards
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastTimestamp {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - Epoch) << timestampLeftShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// Parts ID 的组成部分
type Parts struct {
	Time         time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Parse 拆解 ID
func Parse(id int64) Parts {
	return Parts{
		Time:         time.UnixMilli((id >> timestampLeftShift) + Epoch).UTC(),
		DatacenterID: (id >> datacenterIDShift) & MaxDatacenterID,
		WorkerID:     (id >> workerIDShift) & MaxWorkerID,
		Sequence:     id & maxSequence,
	}
}
