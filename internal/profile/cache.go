package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CachePrefix is the Redis key prefix for cached profiles.
	CachePrefix = "profile:"

	// CacheTTL bounds how stale a cached display name can get.
	CacheTTL = 5 * time.Minute
)

// CachedDirectory wraps a Directory with a Redis read-through cache.
// Enrichment runs on every send, so the hot senders of a busy contest
// room stay out of the database.
type CachedDirectory struct {
	inner  Directory
	client *redis.Client
}

// NewCachedDirectory wraps inner with a Redis cache.
func NewCachedDirectory(inner Directory, client *redis.Client) *CachedDirectory {
	return &CachedDirectory{inner: inner, client: client}
}

// Lookup returns the cached profile when present, falling back to the
// inner directory and populating the cache on a miss. Cache failures
// degrade to direct lookups, never to errors.
func (d *CachedDirectory) Lookup(ctx context.Context, userID string) (*Profile, error) {
	key := CachePrefix + userID

	raw, err := d.client.Get(ctx, key).Bytes()
	if err == nil {
		var p Profile
		if err := json.Unmarshal(raw, &p); err == nil {
			return &p, nil
		}
		// Unreadable cache entry: drop it and fall through.
		d.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("profile: cache get %s: %v (falling back)", userID, err)
	}

	p, err := d.inner.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := d.client.Set(ctx, key, raw, CacheTTL).Err(); err != nil {
			log.Printf("profile: cache set %s: %v", userID, err)
		}
	}
	return p, nil
}
