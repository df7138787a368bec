package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is a Redis-backed decision cache shared across instances.
//
// Entry keys embed the organization's current epoch, so bumping the epoch
// (a single INCR) makes all existing entries for the organization
// unreachable at once; they age out via TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed decision cache. A non-positive ttl
// falls back to DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func epochKey(orgID string) string {
	return "authz:epoch:" + orgID
}

func decisionKey(epoch int64, userID, orgID, permission string) string {
	return fmt.Sprintf("authz:decision:%d:%s:%s:%s", epoch, userID, orgID, permission)
}

func (c *RedisCache) epoch(ctx context.Context, orgID string) (int64, error) {
	epoch, err := c.client.Get(ctx, epochKey(orgID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis epoch get failed: %w", err)
	}
	return epoch, nil
}

// Get retrieves a cached decision, or (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, userID, orgID, permission string) (*Decision, error) {
	epoch, err := c.epoch(ctx, orgID)
	if err != nil {
		return nil, err
	}

	data, err := c.client.Get(ctx, decisionKey(epoch, userID, orgID, permission)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var d Decision
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		// Corrupt entry; drop it and report a miss.
		c.client.Del(ctx, decisionKey(epoch, userID, orgID, permission))
		return nil, nil
	}
	return &d, nil
}

// Put stores a decision under the organization's current epoch.
func (c *RedisCache) Put(ctx context.Context, userID, orgID, permission string, d Decision) error {
	epoch, err := c.epoch(ctx, orgID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	return c.client.Set(ctx, decisionKey(epoch, userID, orgID, permission), data, c.ttl).Err()
}

// InvalidateOrg bumps the organization's epoch.
func (c *RedisCache) InvalidateOrg(ctx context.Context, orgID string) error {
	if err := c.client.Incr(ctx, epochKey(orgID)).Err(); err != nil {
		return fmt.Errorf("redis epoch bump failed: %w", err)
	}
	return nil
}

// InvalidateUser deletes current-epoch entries for one user-org pair.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID, orgID string) error {
	epoch, err := c.epoch(ctx, orgID)
	if err != nil {
		return err
	}

	pattern := decisionKey(epoch, userID, orgID, "*")
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
