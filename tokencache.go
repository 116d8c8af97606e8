package oobd

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// tokenCache remembers which bearer tokens recently passed Argon2
// verification, keyed by a digest of the raw token. A hit skips the
// expensive hash check; the asset row itself is always re-read so a
// cached entry never serves stale state. LRU eviction bounds memory.
// Safe for concurrent use.
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int
}

type tokenEntry struct {
	key       string
	assetID   string
	expiresAt time.Time
}

func newTokenCache(ttl time.Duration, maxSize int) *tokenCache {
	return &tokenCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns the asset id a token verified as, if the entry is still
// fresh. Expired entries are dropped on access.
func (c *tokenCache) Get(token string) (string, bool) {
	key := tokenKey(token)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}
	entry := elem.Value.(*tokenEntry)
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(elem)
		delete(c.entries, key)
		return "", false
	}
	c.lru.MoveToFront(elem)
	return entry.assetID, true
}

// Put records a verified token. At capacity the least recently used
// entry is evicted.
func (c *tokenCache) Put(token, assetID string) {
	key := tokenKey(token)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*tokenEntry)
		entry.assetID = assetID
		entry.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}
	for c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*tokenEntry).key)
	}
	c.entries[key] = c.lru.PushFront(&tokenEntry{
		key:       key,
		assetID:   assetID,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// DropAsset forgets every cached token for an asset. Called on secret
// rotation and asset deletion.
func (c *tokenCache) DropAsset(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for elem := c.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*tokenEntry)
		if entry.assetID == assetID {
			c.lru.Remove(elem)
			delete(c.entries, entry.key)
		}
	}
}

func (c *tokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
