package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"callwatch/pkg/errors"
)

// TopicCache keeps resolved thread names close to the ingest path.
// Postgres stays the source of truth; entries expire after ttl.
type TopicCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTopicCache creates a new topic name cache
func NewTopicCache(client *redis.Client, ttl time.Duration) *TopicCache {
	return &TopicCache{client: client, ttl: ttl}
}

// Get returns the cached name or errors.ErrNotFound
func (c *TopicCache) Get(ctx context.Context, threadID int64) (string, error) {
	name, err := c.client.Get(ctx, c.key(threadID)).Result()
	if err == redis.Nil {
		return "", errors.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get topic name: thread_id=%d", threadID)
	}
	return name, nil
}

// Set caches a resolved name
func (c *TopicCache) Set(ctx context.Context, threadID int64, name string) error {
	if err := c.client.Set(ctx, c.key(threadID), name, c.ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to cache topic name: thread_id=%d", threadID)
	}
	return nil
}

// Invalidate drops a cached name after a rename
func (c *TopicCache) Invalidate(ctx context.Context, threadID int64) error {
	return c.client.Del(ctx, c.key(threadID)).Err()
}

func (c *TopicCache) key(threadID int64) string {
	return fmt.Sprintf("topic:name:%d", threadID)
}
