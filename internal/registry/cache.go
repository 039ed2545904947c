package registry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisPageCache caches page payloads in Redis. Cache failures are treated
// as misses; the registry stays the source of truth.
type RedisPageCache struct {
	client *redis.Client
	prefix string
}

// NewRedisPageCache wraps a Redis client as a PageCache.
func NewRedisPageCache(client *redis.Client) *RedisPageCache {
	return &RedisPageCache{client: client, prefix: "trialgate:registry:"}
}

func (c *RedisPageCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("registry cache read failed")
		}
		return nil, false
	}
	return data, true
}

func (c *RedisPageCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("registry cache write failed")
	}
}
