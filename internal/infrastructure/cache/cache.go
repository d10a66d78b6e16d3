/**
 * Package cache 提供短期缓存
 *
 * 用于缓存代价较高的系统查询结果（如权限状态），条目按 TTL 过期。
 */

package cache

import "time"

/**
 * Cache 缓存接口
 */
type Cache interface {
	// Get 获取缓存值，不存在或已过期时返回 false
	Get(key string) (interface{}, bool)

	// Set 设置缓存值，ttl 为 0 表示永不过期
	Set(key string, value interface{}, ttl time.Duration)

	// Delete 删除缓存
	Delete(key string)
}
