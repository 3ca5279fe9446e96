package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/getevo/evo/v2/lib/log"
	"github.com/redis/go-redis/v9"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
)

const resourceCachePrefix = "integrations:resources:"

// ResourceCache remembers the resources a connection can sync into.
type ResourceCache interface {
	Get(ctx context.Context, connectionID string) ([]drivers.ExternalResource, bool)
	Set(ctx context.Context, connectionID string, resources []drivers.ExternalResource)
	Invalidate(ctx context.Context, connectionID string)
}

// RedisResourceCache stores resource lists as JSON with a TTL. Cache errors are logged and
// treated as misses.
type RedisResourceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisResourceCache(client redis.UniversalClient, ttl time.Duration) *RedisResourceCache {
	return &RedisResourceCache{client: client, ttl: ttl}
}

func (c *RedisResourceCache) Get(ctx context.Context, connectionID string) ([]drivers.ExternalResource, bool) {
	data, err := c.client.Get(ctx, resourceCachePrefix+connectionID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warning("Resource cache read failed for %s: %v", connectionID, err)
		}
		return nil, false
	}
	var resources []drivers.ExternalResource
	if err := json.Unmarshal(data, &resources); err != nil {
		log.Warning("Resource cache entry for %s is corrupt: %v", connectionID, err)
		return nil, false
	}
	return resources, true
}

func (c *RedisResourceCache) Set(ctx context.Context, connectionID string, resources []drivers.ExternalResource) {
	data, err := json.Marshal(resources)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, resourceCachePrefix+connectionID, data, c.ttl).Err(); err != nil {
		log.Warning("Resource cache write failed for %s: %v", connectionID, err)
	}
}

func (c *RedisResourceCache) Invalidate(ctx context.Context, connectionID string) {
	if err := c.client.Del(ctx, resourceCachePrefix+connectionID).Err(); err != nil {
		log.Warning("Resource cache invalidation failed for %s: %v", connectionID, err)
	}
}

var _ ResourceCache = (*RedisResourceCache)(nil)
