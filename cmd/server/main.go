/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the currency engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + ECONOMY_* environment)
  2. Open the store (memory, sqlite or postgres)
  3. Build the engine: worker pool, dispatcher, locker, metrics
  4. Attach the optional Kafka relay
  5. Load the currency registry, seed the optional catalog and start
     the scheduler
  6. Serve HTTP until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections and drain requests
  2. Stop the scheduler
  3. Drain the worker pool, dispatcher and audit writer
  4. Close the relay, the redis client and the store

COMMAND-LINE FLAGS:
  -env   Path to an env file (default: .env)

EXAMPLES:
  # SQLite file database
  ECONOMY_SQLITE_PATH=./data/economy.db ./server

  # PostgreSQL with a cluster-wide lock and event relay
  ECONOMY_STORE=postgres \
  ECONOMY_DATABASE_URL=postgres://economy@db/economy \
  ECONOMY_REDIS_ADDR=redis:6379 \
  ECONOMY_KAFKA_BROKERS=kafka:9092 ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/warp/currency-engine/api"
	"github.com/warp/currency-engine/config"
	"github.com/warp/currency-engine/economy"
	"github.com/warp/currency-engine/economy/store"
	"github.com/warp/currency-engine/events"
	"github.com/warp/currency-engine/factory"
	"github.com/warp/currency-engine/lock"
	"github.com/warp/currency-engine/metrics"
	"github.com/warp/currency-engine/store/postgres"
	"github.com/warp/currency-engine/store/sqlite"
)

// backend is what the server needs from a store beyond economy.TxStore.
type backend interface {
	economy.TxStore
	api.Pinger
	Close() error
}

type memoryBackend struct{ *store.TxMemory }

func (memoryBackend) Ping(context.Context) error { return nil }
func (memoryBackend) Close() error               { return nil }

func main() {
	envFile := flag.String("env", ".env", "Path to an env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	cfg.ConfigureLogging()
	logger := log.WithField("component", "main")

	ctx := context.Background()

	// Store
	db, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer db.Close()

	// Engine dependencies
	registry := economy.NewRegistry()
	collector := metrics.NewCollector(registry.Len)
	pool := economy.NewPool(cfg.WorkerPoolSize)
	dispatcher := economy.NewDispatcher(cfg.HookTimeout)

	var locker economy.Locker = economy.NewKeyedMutex()
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("redis unreachable")
		}
		// Local mutex first so only one goroutine per instance polls redis.
		locker = economy.ChainLocker{locker, lock.NewRedisLocker(redisClient, lock.WithTTL(cfg.RedisLockTTL))}
		logger.WithField("addr", cfg.RedisAddr).Info("distributed account locks enabled")
	}

	engine := economy.NewEngine(db,
		economy.WithRegistry(registry),
		economy.WithExecutor(pool),
		economy.WithDispatcher(dispatcher),
		economy.WithLocker(locker),
		economy.WithInstrumentation(collector),
		economy.WithAuditBuffer(cfg.AuditBuffer),
		economy.WithProvisionBatch(cfg.ProvisionBatch),
	)

	// Event relay
	var relay *events.Relay
	if len(cfg.KafkaBrokers) > 0 {
		producerMetrics := events.NewProducerMetrics(collector.Registry())
		producer, err := events.NewSyncProducer(cfg.KafkaBrokers, producerMetrics)
		if err != nil {
			logger.WithError(err).Fatal("failed to create kafka producer")
		}
		relay = events.NewRelay(producer, cfg.KafkaTopic, cfg.AuditBuffer, producerMetrics)
		relay.Attach(dispatcher)
		logger.WithField("topic", cfg.KafkaTopic).Info("event relay enabled")
	}

	if err := engine.LoadCurrencies(ctx); err != nil {
		logger.WithError(err).Fatal("failed to load currencies")
	}
	if cfg.CurrencyCatalog != "" {
		currencies, err := factory.NewCurrencyFactory().LoadCatalogFile(cfg.CurrencyCatalog)
		if err != nil {
			logger.WithError(err).Fatal("invalid currency catalog")
		}
		created, err := factory.Seed(ctx, engine, currencies, "catalog")
		if err != nil {
			logger.WithError(err).Fatal("failed to seed currency catalog")
		}
		logger.WithFields(log.Fields{"path": cfg.CurrencyCatalog, "created": created}).Info("currency catalog seeded")
	}

	scheduler, err := api.NewScheduler(engine, cfg.RegistryRefreshSchedule, cfg.AccountRepairSchedule)
	if err != nil {
		logger.WithError(err).Fatal("invalid schedule")
	}
	scheduler.Start()

	// HTTP
	handler := api.NewHandler(engine, db)
	handler.Scenarios = cfg.DemoScenarios
	if cfg.DemoScenarios {
		logger.Warn("demo scenarios enabled: loading one deletes every currency")
	}
	router := api.NewRouter(handler, cfg.CORSOrigins, collector.Handler())

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.HTTPAddr, "store": cfg.Store}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	scheduler.Stop()

	pool.Close()
	dispatcher.Close()
	engine.Close()

	if relay != nil {
		relay.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("redis close failed")
		}
	}

	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return memoryBackend{store.NewTxMemory()}, nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		s, err := postgres.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	default:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, err
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
