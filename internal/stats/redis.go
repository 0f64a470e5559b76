package stats

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
)

const keyPrefix = "rwsdm:stats:"

// KV is the subset of a Redis client the shared cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// RedisCached shares provider answers across rewrites and service replicas.
// Cache failures fall through to the wrapped provider. Group requests are
// passed on only when the wrapped provider supports groups.
type RedisCached struct {
	next   Provider
	kv     KV
	isMiss func(error) bool
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewRedisCached(next Provider, kv KV, isMiss func(error) bool, ttl time.Duration) *RedisCached {
	return &RedisCached{
		next:   next,
		kv:     kv,
		isMiss: isMiss,
		ttl:    ttl,
		logger: slog.Default().With("component", "stats-cache"),
	}
}

func (c *RedisCached) NodeStatistics(ctx context.Context, n *query.Node) (Stats, error) {
	return c.GroupNodeStatistics(ctx, n, "")
}

func (c *RedisCached) GroupNodeStatistics(ctx context.Context, n *query.Node, group string) (Stats, error) {
	if _, ok := c.next.(GroupProvider); !ok {
		group = ""
	}
	key := c.buildKey(n, group)
	if s, ok := c.get(ctx, key); ok {
		return s, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		// An earlier flight may have filled the key. The miss is already counted.
		if s, ok := c.lookup(ctx, key); ok {
			return s, nil
		}
		s, err := Fetch(ctx, c.next, n, group)
		if err != nil {
			return Stats{}, err
		}
		c.set(ctx, key, s)
		return s, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return val.(Stats), nil
}

func (c *RedisCached) get(ctx context.Context, key string) (Stats, bool) {
	s, ok := c.lookup(ctx, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return s, ok
}

func (c *RedisCached) lookup(ctx context.Context, key string) (Stats, bool) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !c.isMiss(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return Stats{}, false
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return Stats{}, false
	}
	return s, true
}

func (c *RedisCached) set(ctx context.Context, key string, s Stats) {
	data, err := json.Marshal(s)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached statistic.
func (c *RedisCached) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.kv.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating statistics cache: %w", err)
	}
	c.logger.Info("statistics cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *RedisCached) CacheStats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *RedisCached) buildKey(n *query.Node, group string) string {
	hash := sha256.Sum256([]byte(Key(n, group)))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
