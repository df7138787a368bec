package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalCache is an in-process decision cache for single-node deployments,
// built on an expirable LRU. It implements the same epoch semantics as
// the Redis cache.
type LocalCache struct {
	cache *lru.LRU[string, Decision]

	mu     sync.RWMutex
	epochs map[string]int64
}

// NewLocalCache creates an in-process cache holding at most maxEntries
// decisions. A non-positive ttl falls back to DefaultTTL.
func NewLocalCache(maxEntries int, ttl time.Duration) *LocalCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocalCache{
		cache:  lru.NewLRU[string, Decision](maxEntries, nil, ttl),
		epochs: make(map[string]int64),
	}
}

func (c *LocalCache) currentEpoch(orgID string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochs[orgID]
}

// Get retrieves a cached decision, or (nil, nil) on a miss.
func (c *LocalCache) Get(ctx context.Context, userID, orgID, permission string) (*Decision, error) {
	key := decisionKey(c.currentEpoch(orgID), userID, orgID, permission)
	d, ok := c.cache.Get(key)
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// Put stores a decision under the organization's current epoch.
func (c *LocalCache) Put(ctx context.Context, userID, orgID, permission string, d Decision) error {
	c.cache.Add(decisionKey(c.currentEpoch(orgID), userID, orgID, permission), d)
	return nil
}

// InvalidateOrg bumps the organization's epoch. Entries under older
// epochs become unreachable and age out of the LRU.
func (c *LocalCache) InvalidateOrg(ctx context.Context, orgID string) error {
	c.mu.Lock()
	c.epochs[orgID]++
	c.mu.Unlock()
	return nil
}

// InvalidateUser drops current-epoch entries for one user-org pair.
func (c *LocalCache) InvalidateUser(ctx context.Context, userID, orgID string) error {
	prefix := fmt.Sprintf("authz:decision:%d:%s:%s:", c.currentEpoch(orgID), userID, orgID)
	for _, key := range c.cache.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.cache.Remove(key)
		}
	}
	return nil
}
