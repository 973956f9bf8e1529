// Package cache 短期结果缓存（容量上限 + 写入时起算的 TTL）
//
// 请求端用它缓存提供端的存活状态，避免每次请求都查询一次传输层。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Cache 并发安全的 LRU + TTL 缓存
type Cache[K comparable, V any] struct {
	name string
	ttl  time.Duration
	max  int
	now  func() time.Time

	mu      sync.Mutex
	items   map[K]*list.Element
	lruList *list.List // 最近使用的在前
	stats   Stats
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// Config 缓存配置
type Config struct {
	// Name 用于日志与 String()
	Name string
	// MaxSize 最大条目数，0 表示不限制
	MaxSize int
	// TTL 自写入起的有效期，0 表示永不过期
	TTL time.Duration
}

// Stats 统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

// New 创建缓存
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	return &Cache[K, V]{
		name:    cfg.Name,
		ttl:     cfg.TTL,
		max:     cfg.MaxSize,
		now:     time.Now,
		items:   make(map[K]*list.Element),
		lruList: list.New(),
	}
}

// Get 返回未过期的值
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return value, false
	}
	e := el.Value.(*entry[K, V])
	if c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl {
		c.remove(el)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}
	c.lruList.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set 写入或覆盖，重新开始计时
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value, e.storedAt = value, now
		c.lruList.MoveToFront(el)
		return
	}
	if c.max > 0 && len(c.items) >= c.max {
		if oldest := c.lruList.Back(); oldest != nil {
			c.remove(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.lruList.PushFront(&entry[K, V]{key: key, value: value, storedAt: now})
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		c.remove(el)
	}
	return ok
}

// Len 当前条目数（含尚未清理的过期条目）
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 统计快照
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *Cache[K, V]) remove(el *list.Element) {
	c.lruList.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d hits=%d misses=%d evictions=%d expires=%d",
		c.name, s.Size, c.max, s.Hits, s.Misses, s.Evictions, s.Expires)
}
