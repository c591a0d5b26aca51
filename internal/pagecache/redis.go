package pagecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pageKeyPrefix  = "page"
	indexKeyPrefix = "page-index"
)

// RedisCache stores entries as hashes.
// Key format: "page:{path}:{queryHash}", indexed by the set "page-index:{path}".
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, path, query string) (*Entry, bool, error) {
	vals, err := c.client.HGetAll(ctx, c.pageKey(path, query)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("page cache get: %w", err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	status, err := strconv.Atoi(vals["status"])
	if err != nil {
		return nil, false, fmt.Errorf("page cache parse status: %w", err)
	}
	return &Entry{
		Status:      status,
		ContentType: vals["content_type"],
		Body:        []byte(vals["body"]),
	}, true, nil
}

// Set writes the entry and registers it in the path index in one pipeline.
func (c *RedisCache) Set(ctx context.Context, path, query string, e *Entry) error {
	if e == nil {
		return errors.New("page cache set: nil entry")
	}
	key := c.pageKey(path, query)
	index := c.indexKey(path)

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", strconv.Itoa(e.Status),
		"content_type", e.ContentType,
		"body", string(e.Body),
	)
	pipe.Expire(ctx, key, c.ttl)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("page cache set: %w", err)
	}
	return nil
}

// Revalidate deletes every cached variant of path.
func (c *RedisCache) Revalidate(ctx context.Context, path string) error {
	index := c.indexKey(path)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("page cache revalidate %s: %w", path, err)
	}
	keys = append(keys, index)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("page cache revalidate %s: %w", path, err)
	}
	return nil
}

func (c *RedisCache) pageKey(path, query string) string {
	return fmt.Sprintf("%s:%s:%s", pageKeyPrefix, path, queryHash(query))
}

func (c *RedisCache) indexKey(path string) string {
	return fmt.Sprintf("%s:%s", indexKeyPrefix, path)
}
