package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
)

// Invalidator is a cross-request cache layer that can be emptied on demand,
// for instance after new statistics are imported.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
	CacheStats() (hits, misses int64)
}

// LocalCached keeps the most recently used answers in process memory, in
// front of a slower provider such as the Redis layer. Errors are not cached.
type LocalCached struct {
	next   Provider
	lru    *expirable.LRU[string, Stats]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLocalCached holds at most size answers, each for at most ttl. A zero
// ttl keeps entries until they are evicted by size.
func NewLocalCached(next Provider, size int, ttl time.Duration) *LocalCached {
	return &LocalCached{
		next: next,
		lru:  expirable.NewLRU[string, Stats](size, nil, ttl),
	}
}

func (c *LocalCached) NodeStatistics(ctx context.Context, n *query.Node) (Stats, error) {
	return c.GroupNodeStatistics(ctx, n, "")
}

func (c *LocalCached) GroupNodeStatistics(ctx context.Context, n *query.Node, group string) (Stats, error) {
	if _, ok := c.next.(GroupProvider); !ok {
		group = ""
	}
	key := Key(n, group)
	if s, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return s, nil
	}
	c.misses.Add(1)
	s, err := Fetch(ctx, c.next, n, group)
	if err != nil {
		return Stats{}, err
	}
	c.lru.Add(key, s)
	return s, nil
}

// Invalidate empties this layer and any invalidatable layer below it. The
// count is the number of shared keys removed below; local entries are not
// counted.
func (c *LocalCached) Invalidate(ctx context.Context) (int64, error) {
	c.lru.Purge()
	if inner, ok := c.next.(Invalidator); ok {
		return inner.Invalidate(ctx)
	}
	return 0, nil
}

func (c *LocalCached) CacheStats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LocalCached) Len() int {
	return c.lru.Len()
}
