/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wire approval engine, payroll service and API handler
  5. Seed approval settings when none are stored yet
  6. Start the escalation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional YAML configuration file
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the escalation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with a config file
  ./server -config=./settlement.yaml

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  SETTLEMENT_SERVER_PORT=3000 ./server

ENVIRONMENT:
  Every config key can be set as SETTLEMENT_<SECTION>_<KEY>,
  e.g. SETTLEMENT_LOGGER_LEVEL=debug. See config/config.go.

SEE ALSO:
  - config/config.go: Configuration keys and defaults
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

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "settlement-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Wire engine and services
	engine := approval.NewEngine(store, store, logger.Named("approval"))
	engine.Retry.Attempts = cfg.Approval.RetryAttempts
	engine.Notifier = api.LogNotifier{Logger: logger.Named("notify")}

	svc := payroll.NewService(store, store, store, logger.Named("payroll"))
	svc.Retry.Attempts = cfg.Approval.RetryAttempts

	handler := api.NewHandler(store, engine, svc, logger.Named("api"))

	if err := seedSettings(context.Background(), engine, cfg.Approval.SettingsFile, logger); err != nil {
		return err
	}

	scheduler := api.NewEscalationScheduler(handler.Scanner, logger.Named("escalation"))
	scheduler.Enabled = cfg.Escalation.Enabled
	scheduler.CheckInterval = cfg.Escalation.ScanInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.CORS.AllowedOrigins})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal or listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seedSettings stores the settings file as version 1 when the database has
// no settings yet. Later edits go through PUT /api/settings.
func seedSettings(ctx context.Context, engine *approval.Engine, path string, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	current, err := engine.CurrentSettings(ctx)
	if err != nil {
		return err
	}
	if current.Version > 0 {
		logger.Info("settings already stored, skipping seed file",
			zap.Int("version", current.Version),
			zap.String("file", path))
		return nil
	}

	settings, err := factory.NewSettingsFactory().LoadFile(path)
	if err != nil {
		return err
	}
	stored, err := engine.UpdateSettings(ctx, *settings, generic.ActorSystem)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	logger.Info("settings seeded", zap.Int("version", stored.Version), zap.String("file", path))
	return nil
}
