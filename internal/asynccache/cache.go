// Package asynccache memoizes the pending result of a factory per key.
//
// The first Get for a key stores an in-flight entry before the factory runs;
// concurrent Gets for the same key wait on that entry instead of calling the
// factory again. Entries expire after the configured TTL. A factory that fails
// is evicted once it completes so the next Get retries, while callers already
// waiting on it receive the same error.
package asynccache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Options configures a Cache. A zero TTL keeps entries until evicted by size
// or Delete; a zero MaxEntries leaves the size unbounded.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

type entry[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	store *expirable.LRU[K, *entry[V]]
}

// New constructs a cache.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	return &Cache[K, V]{
		store: expirable.NewLRU[K, *entry[V]](opts.MaxEntries, nil, opts.TTL),
	}
}

// Get returns the cached value for key, calling factory on a miss, on expiry
// or when forceFresh is set. The factory runs detached from the caller's
// cancellation so one impatient caller cannot fail the others; ctx only
// bounds how long this caller waits.
func (c *Cache[K, V]) Get(ctx context.Context, key K, factory func(ctx context.Context) (V, error), forceFresh bool) (V, error) {
	c.mu.Lock()
	e, ok := c.store.Get(key)
	if !ok || forceFresh {
		e = &entry[V]{done: make(chan struct{})}
		c.store.Add(key, e)
		go c.fill(context.WithoutCancel(ctx), key, e, factory)
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) fill(ctx context.Context, key K, e *entry[V], factory func(ctx context.Context) (V, error)) {
	defer close(e.done)
	e.value, e.err = factory(ctx)
	if e.err == nil {
		return
	}
	c.mu.Lock()
	if current, ok := c.store.Peek(key); ok && current == e {
		c.store.Remove(key)
	}
	c.mu.Unlock()
}

// Delete evicts key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	c.store.Remove(key)
	c.mu.Unlock()
}

// Clear evicts every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.store.Purge()
	c.mu.Unlock()
}

// Len returns the number of live entries, pending ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}
