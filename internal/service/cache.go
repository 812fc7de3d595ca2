package service

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/store"
	"github.com/pitabwire/regelwerk/model"
)

const (
	// DefaultFieldCacheSize is the field cache capacity when none is configured.
	DefaultFieldCacheSize = 1024
	// DefaultFieldCacheTTL bounds how long a field written by another
	// instance can be served stale.
	DefaultFieldCacheTTL = 30 * time.Second
)

// FieldCache is a read-through LRU of fields in front of the store. Entries
// expire after the TTL and are dropped on every field write made through this
// cache; a read that raced with a write does not repopulate the cache. A
// cache created with a non-positive size reads through on every call.
type FieldCache struct {
	store   store.Store
	lru     *expirable.LRU[string, model.Field]
	metrics *observability.Metrics

	mu  sync.Mutex
	gen uint64
}

// NewFieldCache creates a cache holding up to size fields for at most ttl.
// A non-positive size disables caching; a non-positive ttl never expires.
func NewFieldCache(st store.Store, size int, ttl time.Duration, metrics *observability.Metrics) *FieldCache {
	c := &FieldCache{store: st, metrics: metrics}
	if size > 0 {
		c.lru = expirable.NewLRU[string, model.Field](size, nil, ttl)
	}
	return c
}

// Get returns the fields with the given ids. Unknown ids are skipped; the
// order of the result is unspecified.
func (c *FieldCache) Get(ctx context.Context, ids []string) ([]model.Field, error) {
	if c.lru == nil {
		return c.store.GetFields(ctx, ids)
	}

	out := make([]model.Field, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if f, ok := c.lru.Get(id); ok {
			c.metrics.RecordFieldCacheHit()
			out = append(out, f.Clone())
			continue
		}
		c.metrics.RecordFieldCacheMiss()
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	loaded, err := c.store.GetFields(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	fresh := c.gen == gen
	for _, f := range loaded {
		if fresh {
			c.lru.Add(f.ID, f.Clone())
		}
		out = append(out, f)
	}
	c.mu.Unlock()
	return out, nil
}

// Invalidate drops the cached copy of the field.
func (c *FieldCache) Invalidate(id string) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	c.gen++
	c.lru.Remove(id)
	c.mu.Unlock()
}

// Len returns the number of cached fields.
func (c *FieldCache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
