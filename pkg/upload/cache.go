package upload

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vjranagit/tsviz/pkg/mapper"
)

// SourceCache keeps parsed uploads for the current session so keys can be
// re-selected without uploading the file again. Nothing in it is persisted.
type SourceCache struct {
	capacity int
	ttl      time.Duration
	lru      *expirable.LRU[string, *mapper.Document]

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

// NewSourceCache creates a cache holding up to capacity documents for ttl.
// A zero ttl keeps entries until they are evicted by size.
func NewSourceCache(capacity int, ttl time.Duration) *SourceCache {
	if capacity <= 0 {
		capacity = 16
	}
	return &SourceCache{
		capacity: capacity,
		ttl:      ttl,
		lru:      expirable.NewLRU[string, *mapper.Document](capacity, nil, ttl),
	}
}

// Get returns the document uploaded under fileName
func (c *SourceCache) Get(fileName string) (*mapper.Document, bool) {
	doc, ok := c.lru.Get(fileName)

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	return doc, ok
}

// Put stores doc under fileName, replacing any previous upload of that name
func (c *SourceCache) Put(fileName string, doc *mapper.Document) {
	c.lru.Add(fileName, doc)
}

// Remove drops the document uploaded under fileName
func (c *SourceCache) Remove(fileName string) {
	c.lru.Remove(fileName)
}

// Size returns the current cache size
func (c *SourceCache) Size() int {
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *SourceCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:     c.lru.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}
