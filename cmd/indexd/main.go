package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/rebuild"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/server/cache"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/units"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/redis"
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
	if err := run(cfg); err != nil {
		slog.Error("index service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) (err error) {
	slog.Info("starting index service",
		"port", cfg.Server.Port,
		"index", cfg.Indexer.Name,
		"num_shards", cfg.Indexer.Shards,
		"analyzer", cfg.Indexer.Analyzer,
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	httpMetrics := metrics.NewHTTP(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, cfg.Indexer.Name)
		defer shutdownMetrics(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()

	var registry consumer.Registry
	var source rebuild.Source
	if postgres.Enabled(cfg.Postgres) {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to unit registry: %w", err)
		}
		defer pg.Close()
		reg := units.NewRegistry(pg.DB)
		if err := reg.EnsureSchema(ctx); err != nil {
			return err
		}
		registry, source = reg, reg
		checker.Register("postgres", health.PingCheck(pg.Ping))
		slog.Info("unit registry enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	var publisher kafka.Publisher
	if kafka.Enabled(cfg.Kafka) {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RebuildRequests)
		defer producer.Close()
		publisher = producer
	}

	// The watcher's callback only runs after Scan, once router is set.
	var router *shard.Router
	var w *watcher.Watcher
	if cfg.Watch.Dir != "" {
		w, err = watcher.New(cfg.Watch.Dir, func(ctx context.Context, path string, content *string) error {
			_, err := consumer.Apply(ctx, router, registry, path, content)
			return err
		}, watcher.Options{Include: cfg.Watch.Include})
		if err != nil {
			return err
		}
		if source == nil {
			source = w
		}
	}

	orchestrator := rebuild.New(source, publisher)
	onRebuild := indexer.RebuildFunc(orchestrator.Request)
	if cfg.Indexer.FailOnRebuild {
		onRebuild = indexer.FailFast
	}

	router, err = shard.NewRouter(cfg.Indexer, onRebuild)
	if err != nil {
		return fmt.Errorf("creating shard router: %w", err)
	}
	defer func() {
		if err := router.Close(); err != nil {
			slog.Error("closing indexes failed", "error", err)
		}
	}()
	checker.Register("index", health.IndexCheck(router.Trusted))

	var wg sync.WaitGroup
	runCtx, cancelRun := context.WithCancel(ctx)
	defer func() {
		cancelRun()
		wg.Wait()
	}()

	router.StartFlushLoop(runCtx)

	if w != nil {
		if err := w.Scan(runCtx); err != nil {
			return fmt.Errorf("initial scan: %w", err)
		}
		wg.Go(func() {
			if err := w.Run(runCtx); err != nil {
				slog.Error("watcher error", "error", err)
			}
		})
	}

	wg.Go(func() {
		if err := orchestrator.Run(runCtx, router); err != nil {
			slog.Error("rebuild orchestrator error", "error", err)
		}
	})

	if kafka.Enabled(cfg.Kafka) {
		kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.UnitEvents,
			consumer.HandleMessage(router, registry))
		indexConsumer := consumer.New(kafkaConsumer)
		wg.Go(func() {
			if err := indexConsumer.Start(runCtx); err != nil {
				slog.Error("consumer error", "error", err)
			}
		})
		slog.Info("consuming unit events",
			"topic", cfg.Kafka.Topics.UnitEvents,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL)
			queryCache.Instrument(httpMetrics.CacheHitsTotal, httpMetrics.CacheMissesTotal)
			checker.Register("redis", health.PingCheck(redisClient.Ping))
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	mux := http.NewServeMux()
	handler.New(router, queryCache, registry).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Metrics(httpMetrics),
		middleware.Timeout(cfg.Server.WriteTimeout),
	)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("index service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}

	cancelRun()
	wg.Wait()

	slog.Info("flushing all shards before shutdown")
	if err := router.FlushAll(context.Background()); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	slog.Info("index service stopped")
	return nil
}
