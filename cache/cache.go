// Package cache 提供带容量上限的泛型 LRU 缓存，用于记忆化编译后的查询条件。
//
// 条目按最近访问排序，超出 MaxSize 时驱逐最久未使用者；TTL 基于访问时间。
// 所有方法并发安全。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Cache 泛型 LRU 缓存
//
//	conds := cache.New[string, *query.Condition](cache.Config{
//	    Name:    "compiled_query",
//	    MaxSize: 512,
//	})
//	cond, err := conds.GetOrLoad(key, compile)
type Cache[K comparable, V any] struct {
	name   string
	config Config

	items   map[K]*entry[K, V]
	lruList *list.List // 最近使用的在前

	mu    sync.Mutex
	stats Stats
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	accessedAt time.Time
	element    *list.Element
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称，出现在 String() 与指标标签中
	Name string

	// MaxSize 最大条目数，0 表示不限
	MaxSize int

	// TTL 自最近一次访问起的过期时间，0 表示永不过期
	TTL time.Duration

	// OnEvict 条目被驱逐、过期或删除时回调（持锁调用，不可重入缓存）
	OnEvict func(key, value any)
}

// Stats 缓存统计
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		name:    config.Name,
		config:  config,
		items:   make(map[K]*entry[K, V]),
		lruList: list.New(),
	}
}

// Name 返回缓存名称
func (c *Cache[K, V]) Name() string { return c.name }

// Get 获取缓存值，found 为 false 表示不存在或已过期
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	// Get 会移动 LRU 位置并更新统计，因此使用互斥锁
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[K, V]) getLocked(key K) (value V, found bool) {
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return value, false
	}
	if c.expired(e) {
		c.remove(e)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}
	e.accessedAt = time.Now()
	c.lruList.MoveToFront(e.element)
	c.stats.Hits++
	return e.value, true
}

// Set 设置缓存值
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	now := time.Now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.accessedAt = now
		c.lruList.MoveToFront(e.element)
		return
	}
	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		c.evictOldest()
	}
	e := &entry[K, V]{key: key, value: value, accessedAt: now}
	e.element = c.lruList.PushFront(e)
	c.items[key] = e
	c.stats.Size = len(c.items)
}

// GetOrLoad 命中时返回缓存值；未命中时调用 load，成功后写入缓存。
//
// load 在锁外执行，并发未命中可能重复调用 load，结果以最后写入者为准。
// load 失败时不缓存，错误原样返回。
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// Clear 清空缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.OnEvict != nil {
		for _, e := range c.items {
			c.config.OnEvict(e.key, e.value)
		}
	}
	c.items = make(map[K]*entry[K, V])
	c.lruList = list.New()
	c.stats.Size = 0
}

// CleanExpired 清理过期条目，返回清理数量
func (c *Cache[K, V]) CleanExpired() int {
	if c.config.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	for _, e := range c.items {
		if c.expired(e) {
			c.remove(e)
			cleaned++
		}
	}
	c.stats.Expires += int64(cleaned)
	return cleaned
}

// Stats 返回统计副本
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// Size 当前条目数
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// HitRate 命中率
func (c *Cache[K, V]) HitRate() float64 {
	s := c.Stats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return c.config.TTL > 0 && time.Since(e.accessedAt) >= c.config.TTL
}

func (c *Cache[K, V]) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.remove(oldest.Value.(*entry[K, V]))
	c.stats.Evictions++
}

func (c *Cache[K, V]) remove(e *entry[K, V]) {
	if c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
	c.lruList.Remove(e.element)
	delete(c.items, e.key)
	c.stats.Size = len(c.items)
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, hit_rate=%.2f%%, evictions=%d, expires=%d",
		c.name, s.Size, c.config.MaxSize, s.Hits, s.Misses, c.HitRate()*100, s.Evictions, s.Expires)
}
