/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the unit ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Open the SQL store (SQLite or PostgreSQL) and migrate it
  3. Choose the unit locker (Redis when configured, in-process otherwise)
  4. Build the ledger, aggregate maintainer and outbox dispatcher
  5. Start the dispatcher and the maintenance scheduler
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port (overrides config)
  -db      Database DSN (overrides config)
           Use ":memory:" with sqlite3 for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, then drain and stop the dispatcher
  4. Close Kafka, Redis and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against PostgreSQL with Redis locks and Kafka events
  DB_DRIVER=postgres DB_DSN=postgres://ledger@localhost/ledger?sslmode=disable \
  REDIS_ADDRESS=localhost:6379 KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: Configuration sources and defaults
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/unit-ledger/api"
	"github.com/warp/unit-ledger/config"
	"github.com/warp/unit-ledger/inventory"
	"github.com/warp/unit-ledger/lock"
	"github.com/warp/unit-ledger/outbox"
	"github.com/warp/unit-ledger/store/sqlstore"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Database DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	logger := config.NewLogger(cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	// Initialize store
	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := inventory.NewMetrics(registry)

	// Unit locks
	var locker inventory.Locker = inventory.NewLocalLocker()
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, logger)
		logger.WithField("address", cfg.Redis.Address).Info("Using Redis unit locks")
	}

	taxRate, err := cfg.TaxRate()
	if err != nil {
		return err
	}
	tiers, err := cfg.TierThresholds()
	if err != nil {
		return err
	}

	ledger := inventory.NewLedger(store, inventory.LedgerConfig{
		Locker:      locker,
		Retry:       cfg.RetryPolicy(),
		LockTimeout: cfg.Ledger.LockTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})
	maintainer := inventory.NewMaintainer(store, tiers, logger)

	// Outbox delivery
	handlers := []outbox.Handler{maintainer}
	if brokers := outbox.SplitBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		publisher := outbox.NewKafkaPublisher(brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		handlers = append(handlers, publisher)
		logger.WithFields(logrus.Fields{"brokers": brokers, "topic": cfg.Kafka.Topic}).Info("Publishing ledger events to Kafka")
	}
	dispatcher := outbox.NewDispatcher(store, logger, handlers...)
	dispatcher.Interval = cfg.Ledger.DispatchInterval
	ledger.SetNotifier(dispatcher)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Maintenance
	scheduler := api.NewScheduler(ledger, maintainer, logger)
	scheduler.SweepInterval = cfg.Ledger.SweepInterval
	scheduler.ReconcileInterval = cfg.Ledger.ReconcileInterval
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(ledger, api.Engines{
		Sale: inventory.SaleConfig{
			HoldTimeout:    cfg.Ledger.HoldTimeout,
			DefaultTaxRate: taxRate,
			Prefixes:       cfg.NumberPrefixes(),
			PhoneRegion:    cfg.Ledger.PhoneRegion,
		},
		Reimport:    cfg.ReimportPolicy(),
		PhoneRegion: cfg.Ledger.PhoneRegion,
	}, scheduler, logger)

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Registry:       registry,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":   cfg.Server.Port,
			"driver": cfg.Database.Driver,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
