package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores flattened permission strings in Redis, keyed by principal id
// and key version. Embedding the key version means any revocation (which
// strictly advances the version) makes stale entries unreachable without an
// explicit delete; Invalidate is still provided for immediate reclamation
// after privilege changes.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a Cache. A non-positive ttl falls back to 15 minutes.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached strings for the principal at the given key version.
// A cache miss returns ok=false with a nil error.
func (c *Cache) Get(ctx context.Context, principalID, keyVersion int64) ([]string, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, c.key(principalID, keyVersion)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var granted []string
	if err := json.Unmarshal(payload, &granted); err != nil {
		return nil, false, err
	}
	return granted, true, nil
}

// Set stores the strings for the principal at the given key version.
func (c *Cache) Set(ctx context.Context, principalID, keyVersion int64, granted []string) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(granted)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(principalID, keyVersion), payload, c.ttl).Err()
}

// Invalidate removes every cached version for the principal.
func (c *Cache) Invalidate(ctx context.Context, principalID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := fmt.Sprintf("authz:perms:%d:v*", principalID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) key(principalID, keyVersion int64) string {
	return fmt.Sprintf("authz:perms:%d:v%d", principalID, keyVersion)
}
