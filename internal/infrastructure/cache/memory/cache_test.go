package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

func entry(fingerprint string, expiresAt time.Time) domain.CacheEntry {
	return domain.CacheEntry{
		Fingerprint: fingerprint,
		AnswerText:  "answer for " + fingerprint,
		SourceIDs:   []string{"paper-1"},
		SearchMode:  domain.SearchModeHybrid,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	cache := New(10)
	ctx := context.Background()

	if err := cache.Put(ctx, entry("fp-1", time.Now().Add(time.Hour)), time.Hour); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := cache.Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AnswerText != "answer for fp-1" {
		t.Fatalf("entry mismatch: %+v", got)
	}
}

func TestGetMiss(t *testing.T) {
	cache := New(10)
	if _, err := cache.Get(context.Background(), "absent"); !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	cache := New(10)
	ctx := context.Background()

	now := time.Now().UTC()
	cache.now = func() time.Time { return now }
	if err := cache.Put(ctx, entry("fp-ttl", now.Add(time.Minute)), time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := cache.Get(ctx, "fp-ttl"); !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	cache := New(2)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	_ = cache.Put(ctx, entry("fp-a", expires), time.Hour)
	_ = cache.Put(ctx, entry("fp-b", expires), time.Hour)

	// Touch fp-a so fp-b becomes the eviction candidate.
	if _, err := cache.Get(ctx, "fp-a"); err != nil {
		t.Fatalf("Get(fp-a) error = %v", err)
	}
	_ = cache.Put(ctx, entry("fp-c", expires), time.Hour)

	if _, err := cache.Get(ctx, "fp-b"); !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected fp-b evicted, got %v", err)
	}
	if _, err := cache.Get(ctx, "fp-a"); err != nil {
		t.Fatalf("fp-a must survive, got %v", err)
	}
	if _, err := cache.Get(ctx, "fp-c"); err != nil {
		t.Fatalf("fp-c must be present, got %v", err)
	}
}

func TestInvalidateAndFlush(t *testing.T) {
	cache := New(10)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	_ = cache.Put(ctx, entry("fp-a", expires), time.Hour)
	_ = cache.Put(ctx, entry("fp-b", expires), time.Hour)

	if err := cache.Invalidate(ctx, "fp-a"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := cache.Get(ctx, "fp-a"); !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected miss after invalidate, got %v", err)
	}

	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, err := cache.Get(ctx, "fp-b"); !domain.IsKind(err, domain.ErrCacheMiss) {
		t.Fatalf("expected miss after flush, got %v", err)
	}
}

func TestMutatingReturnedEntryDoesNotAffectCache(t *testing.T) {
	cache := New(10)
	ctx := context.Background()

	_ = cache.Put(ctx, entry("fp-iso", time.Now().Add(time.Hour)), time.Hour)
	got, err := cache.Get(ctx, "fp-iso")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.SourceIDs[0] = "tampered"

	again, err := cache.Get(ctx, "fp-iso")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again.SourceIDs[0] != "paper-1" {
		t.Fatalf("cache entry was mutated through returned copy")
	}
}
