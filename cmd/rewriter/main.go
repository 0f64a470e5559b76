package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/app"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/handler"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting rewrite service", "port", cfg.Server.Port, "stats_backend", cfg.Stats.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	var opts []app.Option
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts = append(opts, app.WithMetrics(m))
		go metrics.Serve(ctx, cfg.Metrics.Port)
	}

	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to assemble rewriter", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var handlerOpts []handler.Option
	if a.StatsCache != nil {
		handlerOpts = append(handlerOpts, handler.WithStatsCache(a.StatsCache))
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		collector := audit.NewCollector(producer, 10000, 100, 5*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		handlerOpts = append(handlerOpts, handler.WithTracker(collector))
		slog.Info("rewrite audit enabled", "topic", cfg.Kafka.Topic)
	}

	checker := health.NewChecker(2 * time.Second)
	checker.Register("rewriter", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d external tables", len(a.Registry.Paths()))}
	})
	a.RegisterChecks(checker)

	mux := http.NewServeMux()
	handler.New(a.Rewriter, handlerOpts...).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	middlewares := []func(http.Handler) http.Handler{middleware.RequestID}
	if len(cfg.Server.CORSOrigins) > 0 {
		middlewares = append(middlewares, middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))
	}
	if m != nil {
		middlewares = append(middlewares, middleware.Metrics(m))
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		go limiter.Run(ctx)
		middlewares = append(middlewares, middleware.RateLimit(limiter))
	}
	if cfg.Server.RequestTimeout > 0 {
		middlewares = append(middlewares, middleware.Timeout(cfg.Server.RequestTimeout))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middlewares...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("rewrite service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-drained

	slog.Info("rewrite service stopped")
}
