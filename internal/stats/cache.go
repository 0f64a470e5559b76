package stats

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
)

type cacheEntry struct {
	stats Stats
	err   error
}

// Cache memoizes provider answers for the duration of one rewrite. Failed
// fetches are memoized too, so each distinct key reaches the provider at
// most once. A Cache is not safe for concurrent use.
type Cache struct {
	provider Provider
	entries  map[string]cacheEntry
	hits     int
	misses   int
}

func NewCache(p Provider) *Cache {
	return &Cache{
		provider: p,
		entries:  make(map[string]cacheEntry),
	}
}

// Get returns the memoized value for key, calling fetch only on a miss.
func (c *Cache) Get(key string, fetch func() (Stats, error)) (Stats, error) {
	if e, ok := c.entries[key]; ok {
		c.hits++
		return e.stats, e.err
	}
	c.misses++
	s, err := fetch()
	c.entries[key] = cacheEntry{stats: s, err: err}
	return s, err
}

// Lookup fetches the statistics of n within group through the cache.
func (c *Cache) Lookup(ctx context.Context, n *query.Node, group string) (Stats, error) {
	return c.Get(Key(n, group), func() (Stats, error) {
		return Fetch(ctx, c.provider, n, group)
	})
}

func (c *Cache) Hits() int   { return c.hits }
func (c *Cache) Misses() int { return c.misses }
