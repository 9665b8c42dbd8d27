package data

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lk2023060901/nanami/internal/pkg/redis"
	"github.com/lk2023060901/nanami/internal/s3/biz"
)

const (
	bucketCachePrefix = "nanami:bucket:"
	// DefaultBucketCacheTTL is how long a bucket lookup stays cached
	DefaultBucketCacheTTL = 5 * time.Minute
)

// BucketCache caches buckets in Redis, keyed by lower-cased name
type BucketCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBucketCache creates a bucket cache
func NewBucketCache(client *redis.Client, ttl time.Duration) *BucketCache {
	if ttl <= 0 {
		ttl = DefaultBucketCacheTTL
	}
	return &BucketCache{client: client, ttl: ttl}
}

type cachedBucket struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func bucketKey(name string) string {
	return bucketCachePrefix + strings.ToLower(name)
}

// Get returns nil, nil on a miss
func (c *BucketCache) Get(ctx context.Context, name string) (*biz.Bucket, error) {
	raw, err := c.client.Get(ctx, bucketKey(name))
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}

	var cb cachedBucket
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		// corrupt entries count as a miss
		return nil, nil
	}
	return &biz.Bucket{ID: cb.ID, Name: cb.Name, CreatedAt: cb.CreatedAt}, nil
}

func (c *BucketCache) Set(ctx context.Context, b *biz.Bucket) error {
	raw, err := json.Marshal(cachedBucket{ID: b.ID, Name: b.Name, CreatedAt: b.CreatedAt})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, bucketKey(b.Name), string(raw), c.ttl)
}

func (c *BucketCache) Delete(ctx context.Context, name string) error {
	_, err := c.client.Del(ctx, bucketKey(name))
	return err
}
