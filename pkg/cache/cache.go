// Package cache provides a generic, thread-safe LRU cache with always-on
// statistics and optional Prometheus metrics. It backs compiled pattern
// caches for resource matchers.
package cache

import (
	"github.com/c360/semtwin/errors"
)

// Cache is a bounded key/value cache.
type Cache[V any] interface {
	// Get returns the value and true if present, marking it recently used.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Keys returns the keys, most recently used first.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics
}

// EvictCallback is called outside the cache lock when an entry is evicted,
// deleted or cleared.
type EvictCallback[V any] func(key string, value V)

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "max size must be positive")
	}
	return newLRUCache(maxSize, applyOptions(options...))
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Errors from compute are returned and nothing is stored.
func GetOrCompute[V any](c Cache[V], key string, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	if _, err := c.Set(key, v); err != nil {
		return v, err
	}
	return v, nil
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
