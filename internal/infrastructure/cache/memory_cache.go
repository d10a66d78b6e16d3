package cache

import (
	"sync"
	"time"
)

/**
 * cacheItem 缓存项
 */
type cacheItem struct {
	value interface{}

	// expiration 过期时间（零值表示永不过期）
	expiration time.Time

	// accessedAt 最后访问时间，容量淘汰时使用
	accessedAt time.Time
}

func (item *cacheItem) expiredAt(now time.Time) bool {
	return !item.expiration.IsZero() && now.After(item.expiration)
}

/**
 * MemoryCache 内存缓存
 *
 * 特性：
 * - 并发安全
 * - TTL 支持，过期项在访问时惰性清除
 * - 超出容量时淘汰最久未访问的项
 */
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*cacheItem
	maxSize int

	// now 便于测试替换时钟
	now func() time.Time
}

/**
 * NewMemoryCache 创建内存缓存
 *
 * Parameters:
 *   - maxSize: 最大缓存项数（0 表示无限制）
 */
func NewMemoryCache(maxSize int) *MemoryCache {
	return &MemoryCache{
		items:   make(map[string]*cacheItem),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get 获取缓存值
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if item.expiredAt(now) {
		delete(c.items, key)
		return nil, false
	}

	item.accessedAt = now
	return item.value, true
}

// Set 设置缓存值
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	item := &cacheItem{value: value, accessedAt: now}
	if ttl > 0 {
		item.expiration = now.Add(ttl)
	}

	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictLocked(now)
	}
	c.items[key] = item
}

// Delete 删除缓存
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// evictLocked 先清除过期项，仍然满时淘汰最久未访问的项
func (c *MemoryCache) evictLocked(now time.Time) {
	for key, item := range c.items {
		if item.expiredAt(now) {
			delete(c.items, key)
		}
	}
	if len(c.items) < c.maxSize {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, item := range c.items {
		if oldestKey == "" || item.accessedAt.Before(oldest) {
			oldestKey, oldest = key, item.accessedAt
		}
	}
	delete(c.items, oldestKey)
}
