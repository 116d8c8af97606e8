package oobd

import (
	"fmt"
	"testing"
	"time"
)

func TestTokenCacheHitAndMiss(t *testing.T) {
	cache := newTokenCache(time.Minute, 10)

	if _, ok := cache.Get("tok-a"); ok {
		t.Fatal("empty cache should miss")
	}
	cache.Put("tok-a", "asset-1")
	assetID, ok := cache.Get("tok-a")
	if !ok || assetID != "asset-1" {
		t.Fatalf("expected hit for asset-1, got %q %v", assetID, ok)
	}
	if _, ok := cache.Get("tok-b"); ok {
		t.Fatal("unknown token should miss")
	}
}

func TestTokenCacheExpiry(t *testing.T) {
	cache := newTokenCache(10*time.Millisecond, 10)
	cache.Put("tok-a", "asset-1")

	time.Sleep(25 * time.Millisecond)
	if _, ok := cache.Get("tok-a"); ok {
		t.Fatal("expired entry should miss")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry should be dropped, len=%d", cache.Len())
	}
}

func TestTokenCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newTokenCache(time.Minute, 3)
	for i := 0; i < 3; i++ {
		cache.Put(fmt.Sprintf("tok-%d", i), fmt.Sprintf("asset-%d", i))
	}
	// Touch tok-0 so tok-1 becomes the eviction candidate.
	if _, ok := cache.Get("tok-0"); !ok {
		t.Fatal("tok-0 should still be cached")
	}
	cache.Put("tok-3", "asset-3")

	if _, ok := cache.Get("tok-1"); ok {
		t.Fatal("tok-1 should have been evicted")
	}
	for _, token := range []string{"tok-0", "tok-2", "tok-3"} {
		if _, ok := cache.Get(token); !ok {
			t.Fatalf("%s should survive eviction", token)
		}
	}
}

func TestTokenCacheDropAsset(t *testing.T) {
	cache := newTokenCache(time.Minute, 10)
	cache.Put("tok-a", "asset-1")
	cache.Put("tok-b", "asset-1")
	cache.Put("tok-c", "asset-2")

	cache.DropAsset("asset-1")

	if _, ok := cache.Get("tok-a"); ok {
		t.Fatal("tok-a should be dropped with its asset")
	}
	if _, ok := cache.Get("tok-b"); ok {
		t.Fatal("tok-b should be dropped with its asset")
	}
	if _, ok := cache.Get("tok-c"); !ok {
		t.Fatal("tok-c belongs to another asset and should survive")
	}
}

func TestTokenCachePutRefreshesExisting(t *testing.T) {
	cache := newTokenCache(time.Minute, 10)
	cache.Put("tok-a", "asset-1")
	cache.Put("tok-a", "asset-1")
	if cache.Len() != 1 {
		t.Fatalf("re-put should not duplicate, len=%d", cache.Len())
	}
}
