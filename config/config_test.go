package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 16, cfg.WorkerPoolSize)
	assert.Equal(t, 2*time.Second, cfg.HookTimeout)
	assert.Equal(t, "@every 1m", cfg.RegistryRefreshSchedule)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.CurrencyCatalog)
	assert.False(t, cfg.DemoScenarios)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ECONOMY_STORE", "Postgres")
	t.Setenv("ECONOMY_DATABASE_URL", "postgres://u:p@localhost/economy")
	t.Setenv("ECONOMY_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ECONOMY_HOOK_TIMEOUT", "500ms")
	t.Setenv("ECONOMY_DEMO_SCENARIOS", "true")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 500*time.Millisecond, cfg.HookTimeout)
	assert.True(t, cfg.DemoScenarios)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ECONOMY_WORKER_POOL_SIZE=4\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ECONOMY_WORKER_POOL_SIZE") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Store:          StoreMemory,
			WorkerPoolSize: 1,
			HookTimeout:    time.Second,
			AuditBuffer:    1,
			ProvisionBatch: 1,
			DBMaxConns:     1,
			LogLevel:       "info",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown store", func(c *Config) { c.Store = "mongo" }, false},
		{"postgres without url", func(c *Config) { c.Store = StorePostgres }, false},
		{"zero pool", func(c *Config) { c.WorkerPoolSize = 0 }, false},
		{"zero hook timeout", func(c *Config) { c.HookTimeout = 0 }, false},
		{"brokers without topic", func(c *Config) { c.KafkaBrokers = []string{"k:9092"} }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(&log.TextFormatter{})

	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	cfg.ConfigureLogging()

	assert.Equal(t, log.DebugLevel, log.GetLevel())
}
