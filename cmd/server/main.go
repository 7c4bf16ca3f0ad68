/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cash routing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), then apply flags
  2. Build the logrus logger
  3. Initialize SQLite store
  4. Create API handler (router, intake) with dependencies
  5. Optionally serialize decisions (Redis lock, else in-process)
  6. Start the ratio monitor
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment, see config/config.go):
  -port       HTTP server port
  -db         SQLite database path, ":memory:" for in-memory
  -log-level  logrus level
  -redis      Redis address for the distributed sequencer
  -serialize  serialize routing decisions per rule

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the ratio monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections

EXAMPLES:
  ./server -db="./data/routing.db"
  ./server -db=":memory:" -port=3000
  REDIS_ADDRESS=localhost:6379 ./server -serialize

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/warp/cash-router/api"
	"github.com/warp/cash-router/config"
	"github.com/warp/cash-router/lock"
	"github.com/warp/cash-router/routing"
	"github.com/warp/cash-router/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.RedisAddress, "redis", cfg.RedisAddress, "Redis address for distributed routing locks")
	flag.BoolVar(&cfg.Serialize, "serialize", cfg.Serialize, "serialize routing decisions per rule")
	flag.Parse()

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, logger)

	if cfg.Serialize {
		handler.Intake.Sequencer = routing.NewLocalSequencer()
		if cfg.RedisAddress != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			client, err := lock.NewRedisClient(ctx, cfg.RedisAddress)
			cancel()
			if err != nil {
				config.LogError(logger, "main", "main", "redis unavailable; using in-process sequencer", cfg.RedisAddress, err)
			} else {
				defer client.Close()
				handler.Intake.Sequencer = lock.NewRedisSequencer(client, cfg.LockTTL, logger)
				logger.WithField("redis", cfg.RedisAddress).Info("routing decisions serialized via redis")
			}
		}
	}

	monitor := api.NewRatioMonitor(handler)
	monitor.CheckInterval = cfg.MonitorInterval
	monitor.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
		return
	}

	logger.Info("server stopped")
}
