package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"CART_TTL_MINUTES", "DEFAULT_STORE_ID", "DEFAULT_TAX_RATE", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
		"MANAGER_PIN", "LOG_LEVEL", "LOG_FORMAT", "KAFKA_BROKERS", "KAFKA_TOPIC", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"SERVICE_NAME", "ENVIRONMENT", "TRACE_SAMPLE_RATIO",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
	assert.Equal(t, "main-store", cfg.DefaultStoreID)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 4*time.Hour, cfg.CartTTL())
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "retailerp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
default_store_id: store-north
default_tax_rate: "0.15"
redis_addr: cache:6379
kafka_brokers: [kafka-1:9092, kafka-2:9092]
log_level: debug
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "store-north", cfg.DefaultStoreID)
	assert.Equal(t, "0.15", cfg.TaxRate().String())
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL())
}

func TestLoadSplitsBrokerList(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad level":    {"LOG_LEVEL", "verbose"},
		"bad int":      {"REDIS_DB", "zero"},
		"db range":     {"REDIS_DB", "99"},
		"bad tax rate": {"DEFAULT_TAX_RATE", "ten percent"},
		"bad ttl":      {"CART_TTL_MINUTES", "0"},
		"bad ratio":    {"TRACE_SAMPLE_RATIO", "2"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadReportsMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.ErrorContains(t, err, "read config file")
}
