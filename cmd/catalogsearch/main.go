// Package main wires together the catalog search service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pricewise/catalog-search/internal/api"
	"github.com/pricewise/catalog-search/internal/backfill"
	"github.com/pricewise/catalog-search/internal/clock/system"
	"github.com/pricewise/catalog-search/internal/config"
	"github.com/pricewise/catalog-search/internal/dispatcher"
	"github.com/pricewise/catalog-search/internal/embedding"
	idgen "github.com/pricewise/catalog-search/internal/id/uuid"
	"github.com/pricewise/catalog-search/internal/ingest"
	"github.com/pricewise/catalog-search/internal/logging"
	"github.com/pricewise/catalog-search/internal/progress"
	"github.com/pricewise/catalog-search/internal/progress/sinks"
	"github.com/pricewise/catalog-search/internal/search"
	"github.com/pricewise/catalog-search/internal/storage/postgres"
	"github.com/pricewise/catalog-search/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Application.ServiceName, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.InitTracerProvider(ctx, cfg.Application.ServiceName, cfg.Application.Version); err != nil {
		logger.Warn("tracer init failed", zap.Error(err))
	}

	store, err := postgres.NewCatalogStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
	})
	if err != nil {
		logger.Fatal("connect catalog store failed", zap.Error(err))
	}
	defer store.Close()

	var provider embedding.Provider
	if cfg.Embedding.APIKey != "" {
		openai, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.EmbeddingTimeout(),
			Retry: embedding.RetryConfig{
				MaxAttempts: cfg.Embedding.MaxRetries,
				BaseDelay:   time.Duration(cfg.Embedding.BackoffInitialMs) * time.Millisecond,
				MaxDelay:    time.Duration(cfg.Embedding.BackoffMaxMs) * time.Millisecond,
			},
		})
		if err != nil {
			logger.Fatal("embedding provider init failed", zap.Error(err))
		}
		provider = openai
	} else {
		logger.Warn("no embedding api key configured, search will run lexical-only")
	}
	embedder := embedding.NewService(provider, embedding.Config{
		MaxBatchSize:   cfg.Embedding.BatchSize,
		QueryCacheSize: cfg.Embedding.CacheSize,
	})

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	recentRuns := sinks.NewRecentSink(100)
	hub := progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("runs")), promSink, recentRuns)

	clock := system.New()
	ids := idgen.New()

	pipeline := ingest.New(store, clock, ids, hub, logger.Named("ingest"))
	runner := backfill.New(store, embedder, clock, hub, logger.Named("backfill"), backfill.Config{
		BatchSize:   cfg.Backfill.BatchSize,
		Concurrency: cfg.Backfill.Concurrency,
	})
	dispatch := dispatcher.New(runner)

	engine := search.New(store, embedder, search.Config{
		DefaultWeights: search.Weights{
			Lexical: cfg.Search.LexicalWeight,
			Vector:  cfg.Search.VectorWeight,
		},
		CandidateLimit: cfg.Search.CandidateLimit,
		MaxLimit:       cfg.Search.MaxLimit,
	}, logger.Named("search"))

	apiServer := api.NewServer(store, engine, pipeline, runner, recentRuns, store, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("backfill dispatcher started")
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	runner.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
