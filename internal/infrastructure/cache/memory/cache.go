package memory

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// Cache is an in-process LRU answer cache with per-entry TTL, used for
// single-replica deployments and tests where Redis is not worth the
// operational cost.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	now      func() time.Time
}

type cacheItem struct {
	fingerprint string
	entry       domain.CacheEntry
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *Cache) Get(_ context.Context, fingerprint string) (domain.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		return domain.CacheEntry{}, domain.WrapError(domain.ErrCacheMiss, "cache get", fmt.Errorf("no entry"))
	}
	item := elem.Value.(*cacheItem)
	if item.entry.Expired(c.now()) {
		c.removeLocked(elem)
		return domain.CacheEntry{}, domain.WrapError(domain.ErrCacheMiss, "cache get", fmt.Errorf("entry expired"))
	}
	c.order.MoveToFront(elem)
	return item.entry.Clone(), nil
}

func (c *Cache) Put(_ context.Context, entry domain.CacheEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = c.now().Add(ttl)
	}

	if elem, ok := c.entries[entry.Fingerprint]; ok {
		elem.Value.(*cacheItem).entry = entry.Clone()
		c.order.MoveToFront(elem)
		return nil
	}

	elem := c.order.PushFront(&cacheItem{fingerprint: entry.Fingerprint, entry: entry.Clone()})
	c.entries[entry.Fingerprint] = elem

	for c.order.Len() > c.capacity {
		c.removeLocked(c.order.Back())
	}
	return nil
}

func (c *Cache) Invalidate(_ context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fingerprint]; ok {
		c.removeLocked(elem)
	}
	return nil
}

func (c *Cache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element, c.capacity)
	c.order.Init()
	return nil
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	item := elem.Value.(*cacheItem)
	delete(c.entries, item.fingerprint)
	c.order.Remove(elem)
}
