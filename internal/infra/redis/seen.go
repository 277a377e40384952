package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Seen reports whether key was marked within its TTL.
func (c *Client) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.seenKey(key)).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("exists failed: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records key for ttl. Callers mark only after the work it
// stands for has committed.
func (c *Client) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.seenKey(key), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}
