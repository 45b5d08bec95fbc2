// Package config loads server settings from the environment.
//
// Every variable is prefixed with ECONOMY_, e.g. ECONOMY_HTTP_ADDR. A .env
// file in the working directory is read first when present; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

const prefix = "economy"

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	// --- HTTP ---
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// --- Storage ---
	Store       string `envconfig:"STORE" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/economy.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	// --- Engine ---
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"16"`
	HookTimeout    time.Duration `envconfig:"HOOK_TIMEOUT" default:"2s"`
	AuditBuffer    int           `envconfig:"AUDIT_BUFFER" default:"1024"`
	ProvisionBatch int           `envconfig:"PROVISION_BATCH" default:"500"`

	// --- Distributed lock (optional) ---
	RedisAddr    string        `envconfig:"REDIS_ADDR"`
	RedisLockTTL time.Duration `envconfig:"REDIS_LOCK_TTL" default:"10s"`

	// --- Event relay (optional) ---
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"economy.events"`

	// --- Bootstrap ---
	CurrencyCatalog string `envconfig:"CURRENCY_CATALOG"`
	DemoScenarios   bool   `envconfig:"DEMO_SCENARIOS" default:"false"`

	// --- Scheduled jobs (cron specs, empty disables) ---
	RegistryRefreshSchedule string `envconfig:"REGISTRY_REFRESH_SCHEDULE" default:"@every 1m"`
	AccountRepairSchedule   string `envconfig:"ACCOUNT_REPAIR_SCHEDULE" default:"@every 1h"`

	// --- Logging ---
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads the optional env files, then the environment.
// With no arguments it tries ".env".
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("ECONOMY_DATABASE_URL is required when ECONOMY_STORE=postgres")
		}
	default:
		return fmt.Errorf("ECONOMY_STORE must be memory, sqlite or postgres, got %q", c.Store)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("ECONOMY_WORKER_POOL_SIZE must be > 0")
	}
	if c.HookTimeout <= 0 {
		return fmt.Errorf("ECONOMY_HOOK_TIMEOUT must be > 0")
	}
	if c.AuditBuffer <= 0 {
		return fmt.Errorf("ECONOMY_AUDIT_BUFFER must be > 0")
	}
	if c.ProvisionBatch <= 0 {
		return fmt.Errorf("ECONOMY_PROVISION_BATCH must be > 0")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("ECONOMY_DB_MAX_CONNS must be > 0")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("ECONOMY_KAFKA_TOPIC is required when brokers are set")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("ECONOMY_LOG_LEVEL: %w", err)
	}
	return nil
}

// ConfigureLogging applies the level and format to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
