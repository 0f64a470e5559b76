// Package redis wraps go-redis/v9 for the shared statistics cache: byte
// values with a TTL and namespace invalidation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
)

// scanBatch is both the SCAN count hint and the UNLINK batch size.
const scanBatch = 256

type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects and verifies the server with a PING bounded by ctx.
// Socket timeouts are short: a slow cache is treated as a miss upstream.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// FlushByPattern unlinks every key matching the glob pattern, batching the
// keys returned by SCAN, and reports how many were removed.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		deleted int64
		batch   = make([]string, 0, scanBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		deleted += n
		batch = batch[:0]
		return err
	}

	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("unlinking %s: %w", pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("unlinking %s: %w", pattern, err)
	}
	return deleted, nil
}

// IsNilError reports whether err is go-redis's key-not-found answer.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
