package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

const keyPrefix = "answer:"

// Cache stores answers in Redis keyed by request fingerprint. Entries
// expire via Redis TTL; the stored ExpiresAt is a belt-and-suspenders
// check against clock-skewed replicas.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func Open(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (c *Cache) Get(ctx context.Context, fingerprint string) (domain.CacheEntry, error) {
	raw, err := c.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CacheEntry{}, domain.WrapError(domain.ErrCacheMiss, "cache get", err)
		}
		return domain.CacheEntry{}, domain.WrapError(domain.ErrCache, "cache get", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CacheEntry{}, domain.WrapError(domain.ErrCache, "cache decode", err)
	}
	if entry.Expired(time.Now().UTC()) {
		return domain.CacheEntry{}, domain.WrapError(domain.ErrCacheMiss, "cache get", fmt.Errorf("entry expired"))
	}
	return entry, nil
}

func (c *Cache) Put(ctx context.Context, entry domain.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return domain.WrapError(domain.ErrCache, "cache encode", err)
	}
	if err := c.client.Set(ctx, keyPrefix+entry.Fingerprint, raw, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrCache, "cache put", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return domain.WrapError(domain.ErrCache, "cache invalidate", err)
	}
	return nil
}

func (c *Cache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return domain.WrapError(domain.ErrCache, "cache flush", err)
		}
	}
	if err := iter.Err(); err != nil {
		return domain.WrapError(domain.ErrCache, "cache flush", err)
	}
	return nil
}
