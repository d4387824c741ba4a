package route

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/normanking/verity/internal/task"
)

// Cache is the routing-decision memoization contract: a key-value store with
// TTL expiry. Only single-key atomic operations; the router never holds a
// lock across a cache call.
type Cache interface {
	// Get returns the cached track for a feature digest.
	Get(digest string) (task.Track, bool)

	// Set stores a routing decision. Entries expire after the cache's TTL.
	Set(digest string, track task.Track)
}

// LRUCache is an in-process Cache backed by an expirable LRU.
type LRUCache struct {
	inner *lru.LRU[string, task.Track]
}

// NewLRUCache creates a cache holding up to size decisions for ttl each.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 4096
	}
	return &LRUCache{
		inner: lru.NewLRU[string, task.Track](size, nil, ttl),
	}
}

// Get returns the cached track for a digest.
func (c *LRUCache) Get(digest string) (task.Track, bool) {
	return c.inner.Get(digest)
}

// Set stores a routing decision.
func (c *LRUCache) Set(digest string, track task.Track) {
	c.inner.Add(digest, track)
}
