package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
)

// RetryConfig controls the backoff schedule. Zero fields take defaults.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	// Retryable stops retrying on permanent errors. Nil retries everything.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.1
	}
	return c
}

// Retry calls fn until it succeeds, the attempts run out, a permanent error
// is returned or ctx is done.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	_, err := RetryValue(ctx, name, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryValue is Retry for functions that produce a value.
func RetryValue[T any](ctx context.Context, name string, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	log := logger.FromContext(ctx).With("component", "retry", "operation", name)
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info("succeeded after retry", "attempt", attempt)
			}
			return v, nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, fmt.Errorf("%s: permanent failure: %w", name, err)
		}
		if attempt >= cfg.MaxAttempts {
			return zero, fmt.Errorf("%s: gave up after %d attempts: %w", name, attempt, err)
		}
		delay := backoff(attempt, cfg)
		log.Warn("attempt failed, backing off",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s: aborted during backoff: %w", name, ctx.Err())
		}
	}
}

// backoff grows the delay geometrically, spreads it by ±Jitter and caps it.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	d *= 1 + cfg.Jitter*(2*rand.Float64()-1)
	return time.Duration(math.Min(math.Max(d, 0), float64(cfg.MaxDelay)))
}
