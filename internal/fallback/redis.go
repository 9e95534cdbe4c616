package fallback

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache 将降级应答保存在 Redis 中，多个实例可共享。
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache 使用已有的 Redis 客户端创建缓存。
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "agentrouter:fallback:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get 实现 Cache。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set 实现 Cache。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}
