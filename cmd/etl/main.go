package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/covid-state-etl/internal/adapter/feed"
	httpadapter "github.com/couchcryptid/covid-state-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/covid-state-etl/internal/adapter/kafka"
	"github.com/couchcryptid/covid-state-etl/internal/adapter/postgres"
	"github.com/couchcryptid/covid-state-etl/internal/adapter/rediscache"
	"github.com/couchcryptid/covid-state-etl/internal/adapter/snapshot"
	"github.com/couchcryptid/covid-state-etl/internal/config"
	"github.com/couchcryptid/covid-state-etl/internal/observability"
	"github.com/couchcryptid/covid-state-etl/internal/pipeline"
	"github.com/couchcryptid/covid-state-etl/internal/query"
	"github.com/couchcryptid/covid-state-etl/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New()
	sqlite := snapshot.NewSQLiteStore(cfg.SnapshotDB)
	if snap, err := sqlite.Load(ctx); err == nil {
		st.Swap(snap)
		logger.Info("snapshot restored", "path", cfg.SnapshotDB, "snapshot_id", snap.ID, "states", len(snap.States))
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("snapshot restore failed, waiting for first refresh", "path", cfg.SnapshotDB, "error", err)
	}

	opts := []pipeline.Option{
		pipeline.WithSchedule(cfg.RefreshInterval, cfg.RefreshRetryBackoff),
		pipeline.WithPrecedence(cfg.Precedence),
		pipeline.WithArtifacts(snapshot.NewCSVWriter(cfg.DataDir), sqlite),
	}

	// Optional warehouse export (POSTGRES_DSN).
	if cfg.PostgresDSN != "" {
		exporter, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("postgres export disabled", "error", err)
		} else {
			defer exporter.Close()
			if err := exporter.CreateSchema(ctx); err != nil {
				logger.Error("postgres schema", "error", err)
			}
			opts = append(opts, pipeline.WithPublishers(exporter))
			logger.Info("postgres export enabled")
		}
	}

	// Optional refresh notifications (KAFKA_BROKERS).
	var notifier *kafkaadapter.Notifier
	if cfg.NotificationsEnabled() {
		notifier = kafkaadapter.NewNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		opts = append(opts, pipeline.WithPublishers(notifier))
		logger.Info("refresh notifications enabled", "topic", cfg.KafkaTopic)
	}

	// Query result cache: Redis when REDIS_URL is set, in-process LRU otherwise.
	var cache query.Cache = query.NewLRUCache(cfg.QueryCacheSize)
	if cfg.RedisURL != "" {
		rc, err := rediscache.New(ctx, cfg.RedisURL, cfg.QueryCacheTTL, logger)
		if err != nil {
			logger.Error("redis cache unavailable, using in-process cache", "error", err)
		} else {
			defer rc.Close() //nolint:errcheck // best-effort on shutdown
			cache = rc
			logger.Info("redis query cache enabled", "ttl", cfg.QueryCacheTTL)
		}
	}

	client := feed.NewClient(cfg.FetchTimeout, cfg.CacheDir, logger, metrics)
	ref, loaders := pipeline.Sources(cfg, client)
	p := pipeline.New(ref, loaders, st, logger, metrics, opts...)

	engine := query.NewEngine(st, cache, metrics, logger)
	api := httpadapter.NewAPI(engine, st, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, api, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start refresh loop.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("kafka notifier close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
