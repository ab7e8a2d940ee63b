package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the default lifetime of a cached value.
const DefaultTTL = 5 * time.Minute

type CacheItem struct {
	Value      interface{}
	Expiration int64
}

// Cache is a TTL map. Expired entries are dropped lazily on Get and, when a
// cleanup interval is set, by a background janitor.
type Cache struct {
	items map[string]*CacheItem
	mutex sync.RWMutex
	stop  chan struct{}
	once  sync.Once
}

// NewCache creates a cache. cleanupInterval <= 0 disables the janitor.
func NewCache(cleanupInterval time.Duration) *Cache {
	cache := &Cache{
		items: make(map[string]*CacheItem),
		stop:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go cache.cleanup(cleanupInterval)
	}
	return cache
}

// Set stores value. A non-positive duration never expires.
func (c *Cache) Set(key string, value interface{}, duration time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var expiration int64
	if duration > 0 {
		expiration = time.Now().Add(duration).UnixNano()
	}
	c.items[key] = &CacheItem{
		Value:      value,
		Expiration: expiration,
	}
}

func (c *Cache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	item, exists := c.items[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if item.Expiration > 0 && time.Now().UnixNano() > item.Expiration {
		c.mutex.Lock()
		// Set may have replaced the entry in between.
		if currentItem, stillExists := c.items[key]; stillExists && currentItem.Expiration == item.Expiration {
			delete(c.items, key)
		}
		c.mutex.Unlock()
		return nil, false
	}

	return item.Value, true
}

func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
}

func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[string]*CacheItem)
}

func (c *Cache) Count() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// Close stops the janitor if one is running.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now().UnixNano()
			for key, item := range c.items {
				if item.Expiration > 0 && now > item.Expiration {
					delete(c.items, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
