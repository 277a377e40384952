package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis operations used for cross-process coordination.
// Nothing stored here is authoritative: losing Redis only costs duplicate work.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// Prefix namespaces every key, defaults to "marketindexer".
	Prefix string `yaml:"prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromRedis(rdb, cfg.Prefix), nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "marketindexer"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func (c *Client) lockKey(name string) string {
	return fmt.Sprintf("%s:lock:%s", c.prefix, name)
}

func (c *Client) seenKey(name string) string {
	return fmt.Sprintf("%s:seen:%s", c.prefix, name)
}

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose TTL lapsed cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// TryLock attempts to take the named lock for ttl. When ok is false another
// process holds it. The returned unlock is safe to call after expiry.
func (c *Client) TryLock(
	ctx context.Context,
	name string,
	ttl time.Duration,
) (unlock func(context.Context) error, ok bool, err error) {
	key := c.lockKey(name)
	token := uuid.NewString()

	ok, err = c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}
	return unlock, true, nil
}

// RefreshLock extends the TTL of a held lock.
func (c *Client) RefreshLock(ctx context.Context, name string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, c.lockKey(name), ttl).Err()
}
