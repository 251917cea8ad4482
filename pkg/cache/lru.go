package cache

import (
	"container/list"
	"sync"

	"github.com/c360/semtwin/errors"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache evicts the least recently used entry once maxSize is exceeded.
type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

func newLRUCache[V any](maxSize int, opts *cacheOptions[V]) (*lruCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newLRUCache", "metrics registration")
		}
	}

	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.stats.miss()
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return element.Value.(*lruEntry[V]).value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted *lruEntry[V]

	c.mu.Lock()
	c.stats.set()
	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		c.mu.Unlock()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if len(c.items) > c.maxSize {
		if back := c.order.Back(); back != nil {
			evicted = c.remove(back)
			c.stats.eviction()
			if c.metrics != nil {
				c.metrics.evictions.Inc()
			}
		}
	}
	c.sizeChanged()
	c.mu.Unlock()

	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}
	return true, nil
}

func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	entry := c.remove(element)
	c.stats.delete()
	c.sizeChanged()
	c.mu.Unlock()

	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	return true, nil
}

func (c *lruCache[V]) Clear() error {
	c.mu.Lock()
	var dropped []*lruEntry[V]
	if c.evictFn != nil {
		for element := c.order.Back(); element != nil; element = element.Prev() {
			dropped = append(dropped, element.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.sizeChanged()
	c.mu.Unlock()

	for _, entry := range dropped {
		c.evictFn(entry.key, entry.value)
	}
	return nil
}

func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

func (c *lruCache[V]) Stats() *Statistics {
	return c.stats
}

// remove must be called with mu held.
func (c *lruCache[V]) remove(element *list.Element) *lruEntry[V] {
	entry := element.Value.(*lruEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	return entry
}

// sizeChanged must be called with mu held.
func (c *lruCache[V]) sizeChanged() {
	c.stats.updateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.size.Set(float64(len(c.items)))
	}
}
