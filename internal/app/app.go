// Package app assembles the rewriter and its statistics stack from
// configuration. Both the HTTP service and the command-line tool use it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/external"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/rewriter"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stats"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stem"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/resilience"
)

const (
	BackendStatic   = "static"
	BackendPostgres = "postgres"
)

// App is an assembled rewriter. Close releases its connections.
type App struct {
	Rewriter *rewriter.Rewriter
	Registry *external.Registry
	Provider stats.Provider
	// StatsCache is the outermost cross-request cache layer, nil when the
	// postgres backend runs without local or shared caching.
	StatsCache stats.Invalidator
	// Store is nil unless the postgres backend is selected.
	Store *stats.Postgres

	checks  map[string]health.Check
	closers []func() error
	logger  *slog.Logger
}

type options struct {
	metrics  *metrics.Metrics
	registry *external.Registry
}

type Option func(*options)

// WithMetrics reports rewrites, table loads and breaker transitions to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRegistry shares an existing external value registry.
func WithRegistry(r *external.Registry) Option {
	return func(o *options) { o.registry = r }
}

// Build assembles the rewriter described by cfg. Any failure is a
// configuration error and nothing is left open.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{
		checks: make(map[string]health.Check),
		logger: logger.WithComponent("app"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	stemmer, err := stem.ByName(cfg.Rewriter.Stemmer)
	if err != nil {
		return nil, err
	}

	a.Registry = o.registry
	if a.Registry == nil {
		var regOpts []external.Option
		if o.metrics != nil {
			regOpts = append(regOpts, external.WithObserver(o.metrics.ObserveTableLoad))
		}
		a.Registry = external.NewRegistry(stemmer, regOpts...)
	}

	features, err := feature.NewSet(cfg.Rewriter.Features, a.Registry)
	if err != nil {
		return nil, err
	}

	if a.Provider, err = a.buildProvider(ctx, cfg, o.metrics); err != nil {
		return nil, err
	}

	rwOpts := []rewriter.Option{
		rewriter.WithPartitionResolver(partition.NewResolver(cfg.Rewriter.DefaultPart, cfg.Rewriter.AvailableParts)),
	}
	if o.metrics != nil {
		rwOpts = append(rwOpts, rewriter.WithObserver(o.metrics))
	}
	a.Rewriter = rewriter.New(features, a.Provider, rewriter.Options{
		Verbose: cfg.Rewriter.Verbose,
		Norm:    cfg.Rewriter.Norm,
	}, rwOpts...)

	a.logger.Info("rewriter assembled",
		"unigram_features", len(features.Unigrams),
		"bigram_features", len(features.Bigrams),
		"trigram_features", len(features.Trigrams),
		"external_tables", len(a.Registry.Paths()),
		"stats_backend", cfg.Stats.Backend,
		"stats_cache", a.StatsCache != nil,
	)
	return a, nil
}

func (a *App) buildProvider(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (stats.Provider, error) {
	var provider stats.Provider
	switch cfg.Stats.Backend {
	case "", BackendStatic:
		static := stats.NewStatic()
		if cfg.Stats.StaticPath != "" {
			loaded, err := stats.LoadStatic(cfg.Stats.StaticPath)
			if err != nil {
				return nil, apperrors.Newf(apperrors.ErrConfiguration, "stats", "loading %s: %v", cfg.Stats.StaticPath, err)
			}
			static = loaded
		}
		a.logger.Info("static statistics loaded", "entries", static.Len(), "path", cfg.Stats.StaticPath)
		provider = static
	case BackendPostgres:
		store, err := a.connectPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Store = store
		breaker := resilience.NewCircuitBreaker("stats-postgres", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Stats.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Stats.Breaker.ResetTimeout,
			OnStateChange: func(name string, to resilience.State) {
				if m != nil {
					m.SetBreakerState(name, int(to))
				}
			},
		})
		resilient := stats.NewResilient(store, breaker, cfg.Stats.Timeout)
		a.checks["postgres"] = health.PingCheck(store.Ping, false)
		a.checks["stats_breaker"] = health.BreakerCheck(func() string { return resilient.State().String() })
		provider = resilient
	default:
		return nil, apperrors.Newf(apperrors.ErrConfiguration, "stats", "unknown statistics backend %q", cfg.Stats.Backend)
	}

	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.logger.Warn("redis unavailable, shared statistics cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.closers = append(a.closers, client.Close)
			shared := stats.NewRedisCached(provider, client, pkgredis.IsNilError, cfg.Stats.CacheTTL)
			a.checks["redis"] = health.PingCheck(client.Ping, false)
			a.StatsCache = shared
			provider = shared
		}
	}

	if cfg.Stats.Backend == BackendPostgres && cfg.Stats.LocalCacheSize > 0 {
		local := stats.NewLocalCached(provider, cfg.Stats.LocalCacheSize, cfg.Stats.CacheTTL)
		a.StatsCache = local
		provider = local
	}
	return provider, nil
}

func (a *App) connectPostgres(ctx context.Context, cfg *config.Config) (*stats.Postgres, error) {
	retry := resilience.RetryConfig{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !postgres.IsPermanent(err) },
	}
	client, err := resilience.RetryValue(ctx, "postgres-connect", retry, func() (*postgres.Client, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return postgres.New(pingCtx, cfg.Postgres)
	})
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrConfiguration, "stats", "connecting to postgres at %s:%d: %v",
			cfg.Postgres.Host, cfg.Postgres.Port, err)
	}
	a.closers = append(a.closers, client.Close)
	store := stats.NewPostgres(client)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, apperrors.Newf(apperrors.ErrConfiguration, "stats", "creating term_stats schema: %v", err)
	}
	return store, nil
}

// RegisterChecks adds the health checks of the assembled backends.
func (a *App) RegisterChecks(c *health.Checker) {
	for name, check := range a.checks {
		c.Register(name, check)
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("closing app: %w", errors.Join(errs...))
	}
	return nil
}
