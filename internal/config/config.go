package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                  string   `yaml:"port" validate:"required,numeric"`
	AllowedOrigin         string   `yaml:"allowed_origin"`
	DatabaseURL           string   `yaml:"database_url"`
	RedisAddr             string   `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword         string   `yaml:"redis_password"`
	RedisDB               int      `yaml:"redis_db" validate:"gte=0,lte=15"`
	CartTTLMinutes        int      `yaml:"cart_ttl_minutes" validate:"gt=0"`
	DefaultStoreID        string   `yaml:"default_store_id" validate:"required"`
	DefaultTaxRate        string   `yaml:"default_tax_rate" validate:"numeric"`
	AuthSecret            string   `yaml:"auth_secret"`
	AccessTokenTTLMinutes int      `yaml:"access_token_ttl_minutes" validate:"gt=0"`
	ManagerPIN            string   `yaml:"manager_pin"`
	LogLevel              string   `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat             string   `yaml:"log_format" validate:"oneof=json console"`
	KafkaBrokers          []string `yaml:"kafka_brokers" validate:"dive,hostname_port"`
	KafkaTopic            string   `yaml:"kafka_topic" validate:"required_with=KafkaBrokers"`
	OTLPEndpoint          string   `yaml:"otlp_endpoint"`
	ServiceName           string   `yaml:"service_name" validate:"required"`
	Environment           string   `yaml:"environment"`
	TraceSampleRatio      float64  `yaml:"trace_sample_ratio" validate:"gte=0,lte=1"`
}

func Default() Config {
	return Config{
		Port:                  "8080",
		AllowedOrigin:         "http://127.0.0.1:3000",
		CartTTLMinutes:        240,
		DefaultStoreID:        "main-store",
		DefaultTaxRate:        "0",
		AccessTokenTTLMinutes: 480,
		LogLevel:              "info",
		LogFormat:             "json",
		KafkaTopic:            "retailerp.events",
		ServiceName:           "retailerp-backend",
		Environment:           "development",
		TraceSampleRatio:      1,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, then environment variables, and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.AllowedOrigin, "ALLOWED_ORIGIN")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.DefaultStoreID, "DEFAULT_STORE_ID")
	setString(&c.DefaultTaxRate, "DEFAULT_TAX_RATE")
	setString(&c.AuthSecret, "AUTH_SECRET")
	setString(&c.ManagerPIN, "MANAGER_PIN")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.KafkaTopic, "KAFKA_TOPIC")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.ServiceName, "SERVICE_NAME")
	setString(&c.Environment, "ENVIRONMENT")

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.KafkaBrokers = splitList(brokers)
	}
	for key, dest := range map[string]*int{
		"REDIS_DB":                 &c.RedisDB,
		"CART_TTL_MINUTES":         &c.CartTTLMinutes,
		"ACCESS_TOKEN_TTL_MINUTES": &c.AccessTokenTTLMinutes,
	} {
		if err := setInt(dest, key); err != nil {
			return err
		}
	}
	if raw := getEnv("TRACE_SAMPLE_RATIO", ""); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("TRACE_SAMPLE_RATIO: %w", err)
		}
		c.TraceSampleRatio = ratio
	}
	return nil
}

func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// TaxRate returns the parsed default tax rate. Validate guarantees it parses.
func (c Config) TaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.DefaultTaxRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (c Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLMinutes) * time.Minute
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func setString(dest *string, key string) {
	*dest = getEnv(key, *dest)
}

func setInt(dest *int, key string) error {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dest = val
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
