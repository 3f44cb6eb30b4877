// Package server assembles the application: configuration, stores, pipeline
// services, HTTP handlers, and background workers, with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"docsync/internal/config"
	"docsync/internal/db"
	"docsync/internal/embedding"
	"docsync/internal/handlers"
	"docsync/internal/ratelimit"
	"docsync/internal/repositories"
	"docsync/internal/retry"
	"docsync/internal/routes"
	"docsync/internal/services"
	"docsync/internal/splitter"
	"docsync/internal/txn"
	"docsync/internal/workers"
)

// Server owns every long-lived component and tears them down in order.
type Server struct {
	cfg         *config.Config
	httpServer  *http.Server
	store       repositories.RelationalStore
	vectors     repositories.VectorRepository
	limiter     *ratelimit.Limiter
	txns        *txn.Manager
	scheduler   *retry.Scheduler
	coordinator *services.IngestCoordinator
	pool        *workers.WorkerPool
	logger      *log.Logger
}

// New builds the server from configuration. Every dependency is probed before
// the constructor returns; a dead database or vector store fails startup.
func New(cfg *config.Config) (*Server, error) {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Relational store.
	database, dialect, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	store, err := repositories.NewSQLStore(database, dialect, logger)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("store init: %w", err)
	}
	logger.Printf("Relational store ready (%s)", cfg.DB.Type)

	// Vector store. The collection's vector size is pinned at startup; a
	// mismatch against an existing collection is fatal.
	qdrant := db.NewQdrantClient(db.QdrantConfig{
		URL:     cfg.Qdrant.URL,
		Timeout: cfg.Qdrant.Timeout,
	})
	vectors := repositories.NewQdrantVectorRepository(qdrant, cfg.Qdrant.Collection, logger)
	if err := vectors.EnsureReady(ctx, cfg.Qdrant.VectorSize); err != nil {
		store.Close()
		return nil, fmt.Errorf("vector store init: %w", err)
	}
	logger.Printf("Vector store ready: %s (size %d)", cfg.Qdrant.Collection, cfg.Qdrant.VectorSize)

	// Embedding provider, optionally fronted by a cache.
	provider := buildProvider(ctx, cfg, logger)

	// Pipeline plumbing.
	limiter := ratelimit.NewLimiter(logger)
	txns := txn.NewManager(database, logger)
	scheduler := retry.NewScheduler(logger)
	strategy := retry.Strategy{
		MaxRetries:    cfg.Retry.MaxRetries,
		BaseDelay:     cfg.Retry.BaseDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxDelay:      cfg.Retry.MaxDelay,
		Jitter:        true,
	}

	machine := services.NewSyncStateMachine(store, cfg.Retry.MaxRetries, logger)
	coordinator := services.NewIngestCoordinator(store, vectors, provider, limiter, txns,
		machine, scheduler, services.IngestConfig{
			BatchSize:      cfg.Embedding.BatchSize,
			SplitOptions:   splitter.DefaultOptions(),
			Strategy:       strategy,
			EmbeddingLimit: bucketConfig(cfg.RateLimit.Embedding),
			UpsertLimit:    bucketConfig(cfg.RateLimit.VectorUpsert),
		}, logger)
	cascade := services.NewCascadeService(store, vectors, limiter, txns, coordinator,
		bucketConfig(cfg.RateLimit.VectorDelete), logger)

	collectionService := services.NewCollectionService(store, vectors, cascade, logger)
	documentService := services.NewDocumentService(store, machine, coordinator, cascade, logger)
	searchService := services.NewSearchService(store, vectors, provider, limiter,
		bucketConfig(cfg.RateLimit.Embedding), logger)
	metricsService := services.NewMetricsService(store, vectors, provider, scheduler, logger)

	// Background maintenance.
	pool := workers.NewWorkerPool()
	pool.AddWorker(workers.NewMaintenanceWorker(workers.MaintenanceWorkerConfig{
		WorkerConfig: workers.WorkerConfig{
			WorkerName:      "maintenance",
			Interval:        cfg.GC.Interval,
			ShutdownTimeout: cfg.API.ShutdownTimeout,
		},
		Store:            store,
		Metrics:          metricsService,
		MetricsRetention: cfg.GC.MetricsRetention,
		JobRetention:     cfg.GC.Interval,
		Logger:           log.New(os.Stdout, "[WORKER] ", log.LstdFlags),
	}))

	// HTTP surface.
	handlerLogger := log.New(os.Stdout, "[API] ", log.LstdFlags)
	router := mux.NewRouter()
	routes.RegisterRoutes(router, &routes.Handlers{
		Collections: handlers.NewCollectionHandler(collectionService, handlerLogger),
		Documents:   handlers.NewDocumentHandler(documentService, handlerLogger),
		Search:      handlers.NewSearchHandler(searchService, handlerLogger),
		System:      handlers.NewSystemHandler(metricsService, pool, handlerLogger),
	})

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.API.Port),
			Handler: corsMiddleware(router),
		},
		store:       store,
		vectors:     vectors,
		limiter:     limiter,
		txns:        txns,
		scheduler:   scheduler,
		coordinator: coordinator,
		pool:        pool,
		logger:      logger,
	}, nil
}

// Start resumes interrupted sync jobs, starts workers, and serves HTTP. It
// blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	if err := s.coordinator.Initialize(ctx); err != nil {
		return fmt.Errorf("sync recovery: %w", err)
	}
	if err := s.pool.StartAll(ctx); err != nil {
		return fmt.Errorf("workers: %w", err)
	}

	s.logger.Printf("Listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and tears components down: HTTP first so
// no new work arrives, then workers and the retry scheduler, then the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.API.ShutdownTimeout)
	defer cancel()

	s.logger.Printf("Shutting down (timeout %s)", s.cfg.API.ShutdownTimeout)
	err := s.httpServer.Shutdown(shutdownCtx)

	if poolErr := s.pool.StopAll(shutdownCtx); poolErr != nil {
		s.logger.Printf("Worker shutdown: %v", poolErr)
	}
	s.scheduler.Close()
	s.txns.Close()
	s.limiter.Close()
	s.vectors.Close()
	if closeErr := s.store.Close(); closeErr != nil {
		s.logger.Printf("Store close: %v", closeErr)
	}

	s.logger.Printf("Shutdown complete")
	return err
}

func openDatabase(cfg *config.Config) (*sql.DB, db.Dialect, error) {
	switch cfg.DB.Type {
	case "postgres":
		database, err := db.OpenPostgres(cfg.DB.DSN())
		if err != nil {
			return nil, "", fmt.Errorf("postgres open: %w", err)
		}
		return database, db.DialectPostgres, nil
	default:
		database, err := db.OpenSQLite(cfg.DB.Path)
		if err != nil {
			return nil, "", fmt.Errorf("sqlite open: %w", err)
		}
		return database, db.DialectSQLite, nil
	}
}

// buildProvider wires the OpenAI provider behind a vector cache: redis when
// configured and reachable, an in-process LRU otherwise.
func buildProvider(ctx context.Context, cfg *config.Config, logger *log.Logger) embedding.Provider {
	var provider embedding.Provider = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, logger)

	if cfg.Redis.Enabled {
		client, err := db.NewRedisClient(ctx, db.RedisConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Printf("Redis unavailable, falling back to in-process cache: %v", err)
		} else {
			logger.Printf("Embedding cache: redis (%s)", cfg.Redis.Addr())
			cache := embedding.NewRedisCache(client, 0, logger)
			return embedding.NewCachedProvider(provider, cache, cfg.OpenAI.Model, logger)
		}
	}

	cache, err := embedding.NewLRUCache(4096)
	if err != nil {
		logger.Printf("LRU cache init failed, embeddings uncached: %v", err)
		return provider
	}
	logger.Printf("Embedding cache: in-process LRU")
	return embedding.NewCachedProvider(provider, cache, cfg.OpenAI.Model, logger)
}

func bucketConfig(b config.BucketConfig) ratelimit.Config {
	return ratelimit.Config{MaxTokens: b.MaxTokens, RefillPerSec: b.RefillPerSec, Enabled: b.Enabled}
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
