package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the read side of the document store.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
}

// CachedStore is a read-through Redis cache in front of a Store.
// Misses are not cached so a freshly issued certificate verifies immediately.
type CachedStore struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewCachedStore wraps next. A nil client disables caching.
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{next: next, client: client, ttl: ttl, log: log.With(zap.String("component", "certificate_cache"))}
}

func cacheKey(id string) string {
	return "certverify:cert:" + id
}

// Get serves from Redis when possible. Redis failures fall back to the underlying store.
func (c *CachedStore) Get(ctx context.Context, id string) (*Record, error) {
	if c.client == nil {
		return c.next.Get(ctx, id)
	}

	raw, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var rec Record
		if jerr := json.Unmarshal(raw, &rec); jerr == nil {
			return &rec, nil
		}
		c.log.Warn("discarding corrupt cache entry", zap.String("certificate_id", id))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("cache read failed", zap.String("certificate_id", id), zap.Error(err))
	}

	rec, err := c.next.Get(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	if raw, err := json.Marshal(rec); err == nil {
		if err := c.client.Set(ctx, cacheKey(id), raw, c.ttl).Err(); err != nil {
			c.log.Warn("cache write failed", zap.String("certificate_id", id), zap.Error(err))
		}
	}
	return rec, nil
}

// Invalidate drops a cached record, e.g. after its document URL changes.
func (c *CachedStore) Invalidate(ctx context.Context, id string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(id)).Err()
}
