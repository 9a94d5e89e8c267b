package sources

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache holds the last good result of a feed fetch for a fixed TTL. It is
// shared by every concurrent caller of one adapter, so all read-modify-write
// goes through the mutex, and cache misses are coalesced into a single
// in-flight remote call.
type Cache struct {
	ttl   time.Duration
	group singleflight.Group

	mu    sync.Mutex
	data  []RawProposal
	stamp time.Time
	has   bool
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Fresh returns the cached data if it is still inside the TTL.
func (c *Cache) Fresh(now time.Time) ([]RawProposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.has && now.Sub(c.stamp) < c.ttl {
		return c.data, true
	}
	return nil, false
}

// Stale returns the last good data regardless of age.
func (c *Cache) Stale() ([]RawProposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data, c.has
}

func (c *Cache) Put(data []RawProposal) {
	c.mu.Lock()
	c.data = data
	c.stamp = time.Now()
	c.has = true
	c.mu.Unlock()
}

// Shorten rewinds the entry's timestamp so it expires d from now instead of
// at the full TTL. Used after a rate-limit response to retry sooner.
func (c *Cache) Shorten(d time.Duration) {
	c.mu.Lock()
	if c.has {
		c.stamp = time.Now().Add(d - c.ttl)
	}
	c.mu.Unlock()
}

// Fetch returns fresh cached data when available, otherwise runs fn exactly
// once across all concurrent callers. A successful fn refreshes the cache; a
// failed fn falls back to the last good data when there is any.
func (c *Cache) Fetch(ctx context.Context, fn func(context.Context) ([]RawProposal, error)) ([]RawProposal, error) {
	if data, ok := c.Fresh(time.Now()); ok {
		return data, nil
	}

	v, err, _ := c.group.Do("fetch", func() (interface{}, error) {
		// Re-check under the flight: a sibling may have refreshed already.
		if data, ok := c.Fresh(time.Now()); ok {
			return data, nil
		}
		data, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(data)
		return data, nil
	})
	if err != nil {
		if data, ok := c.Stale(); ok {
			return data, nil
		}
		return nil, err
	}
	return v.([]RawProposal), nil
}
