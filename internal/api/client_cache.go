package api

import (
	"container/list"
	"sync"
)

// ClientCache is a thread-safe LRU of per-session clients. Keeping a client
// across worker passes keeps its access token warm, so a pass does not cost
// a token refresh.
type ClientCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

// cacheEntry represents a key-value pair in the cache
type cacheEntry struct {
	key   string
	value *Client
}

// NewClientCache creates a cache holding at most capacity clients
func NewClientCache(capacity int) *ClientCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ClientCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get retrieves a client from the cache
func (c *ClientCache) Get(key string) (*Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		// Move to front (most recently used)
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Put adds or replaces a client
func (c *ClientCache) Put(key string, value *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	// Evict oldest if at capacity
	if c.lru.Len() >= c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem
}

// Remove drops a client, e.g. after its credentials were rejected
func (c *ClientCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, exists := c.cache[key]; exists {
		c.lru.Remove(elem)
		delete(c.cache, key)
	}
}
