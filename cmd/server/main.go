/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the retail aggregation engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env merged in development)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Connect Redis when configured (summary cache + day locks)
  5. Create API handler with dependencies
  6. Start server with graceful shutdown

CONFIGURATION:
  PORT                HTTP server port (default: 8080)
  DB_PATH             SQLite database path (default: ./data/retail.db)
                      Use ":memory:" for an in-memory database
  ALLOWED_ORIGINS     Comma-separated CORS origins
  REDIS_ADDR          Optional; empty runs without cache or day locks
  CACHE_TTL_SECONDS   Summary cache TTL (default: 60)
  APP_ENV             "development" (console logs) or "production" (JSON)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database and Redis connections
  4. Exit

SEE ALSO:
  - config/config.go: Environment loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goldleaf/retail-engine/api"
	"github.com/goldleaf/retail-engine/cache"
	"github.com/goldleaf/retail-engine/config"
	"github.com/goldleaf/retail-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Redis is optional: without it the server runs with no summary
	// cache and unserialized reconciliation runs.
	var (
		summaryCache cache.SummaryCache = cache.Noop{}
		locker       *redislock.Client
		redisClient  *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without cache", zap.Error(err))
		} else {
			summaryCache = cache.NewRedis(redisClient, logger)
			locker = redislock.New(redisClient)
		}
		defer redisClient.Close()
	}

	handler := api.NewHandler(
		store, store,
		summaryCache, locker,
		time.Duration(cfg.CacheTTL)*time.Second,
		logger,
	)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Bool("cache", cfg.RedisAddr != ""))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
