/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the store (SQLite, or in-memory for demos)
  3. Seed the default policy set into an empty store
  4. Create API handler and rollover scheduler
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags override environment variables; environment variables override
  .env. All three are optional.

  -port / PORT           HTTP server port (default: 8080)
  -db   / DATABASE_PATH  SQLite database path (default: leave.db)
                         Use "memory" for the in-memory store
  -rollover-interval     Scheduler check interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rollover scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run with in-memory store
  ./server -db=memory

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/leave"
	memstore "github.com/warp/leave-engine/leave/store"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "leave.db"), `SQLite database path ("memory" for in-memory store)`)
	rolloverInterval := flag.Duration("rollover-interval", time.Hour, "rollover scheduler check interval")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(
		slog.String("app", "leave-engine"),
	)
	slog.SetDefault(logger)

	// Initialize store
	var (
		store   leave.TxStore
		closeFn func() error
	)
	if *dbPath == "memory" {
		store = memstore.NewTxMemory()
		closeFn = func() error { return nil }
		logger.Info("using in-memory store")
	} else {
		s, err := sqlite.New(*dbPath)
		if err != nil {
			logger.Error("failed to initialize database", "path", *dbPath, "error", err)
			os.Exit(1)
		}
		store = s
		closeFn = s.Close
		logger.Info("using sqlite store", "path", *dbPath)
	}
	defer closeFn()

	ctx := context.Background()
	if err := seedDefaultPolicies(ctx, store); err != nil {
		logger.Error("failed to seed default policies", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, logger)
	router := api.NewRouter(handler, logger)

	scheduler := api.NewRolloverScheduler(store, handler.Ledger, logger)
	scheduler.CheckInterval = *rolloverInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// seedDefaultPolicies installs the preset policy set into an empty store.
// A store that already has policies is left untouched.
func seedDefaultPolicies(ctx context.Context, store leave.EngineStore) error {
	existing, err := store.ListPolicies(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range leave.DefaultPolicies() {
		if err := store.UpsertPolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
