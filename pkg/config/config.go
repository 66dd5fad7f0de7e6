// Package config loads and validates bridge configuration from YAML files
// with .env and environment-variable overrides. It provides typed structs for
// every subsystem (Kafka, OpenSearch, Bridge, Redis, Postgres, etc.).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
)

const (
	IDStrategyHash  = "hash"
	IDStrategyField = "field"

	CursorModeAttempted = "attempted"
	CursorModeSucceeded = "succeeded"

	StartOffsetLatest   = "latest"
	StartOffsetEarliest = "earliest"
)

// Config is the top-level application configuration.
type Config struct {
	Kafka      KafkaConfig      `yaml:"kafka"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// KafkaConfig holds broker, group and fetch settings for the source topic.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Topic         string        `yaml:"topic"`
	StartOffset   string        `yaml:"startOffset"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxBatch      int           `yaml:"maxBatch"`
	CommitTimeout time.Duration `yaml:"commitTimeout"`
}

// OpenSearchConfig holds the index store endpoint and client retry policy.
// URL may carry basic-auth credentials in its user-info segment.
type OpenSearchConfig struct {
	URL              string        `yaml:"url"`
	Index            string        `yaml:"index"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	RetryWaitMin     time.Duration `yaml:"retryWaitMin"`
	RetryWaitMax     time.Duration `yaml:"retryWaitMax"`
	ProvisionTimeout time.Duration `yaml:"provisionTimeout"`
	Refresh          string        `yaml:"refresh"`
}

// BridgeConfig controls the ingestion loop: poll timeout, document id
// derivation and cursor advancement.
type BridgeConfig struct {
	PollTimeout time.Duration `yaml:"pollTimeout"`
	IDStrategy  string        `yaml:"idStrategy"`
	IDField     string        `yaml:"idField"`
	CursorMode  string        `yaml:"cursorMode"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// RedisConfig controls the optional redelivery dedup cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	DedupTTL time.Duration `yaml:"dedupTTL"`
}

// PostgresConfig holds connection parameters for the optional batch audit ledger.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the ops server exposing /metrics and health probes.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), then a .env file in the working
// directory (if present), and applies BRIDGE_* environment-variable overrides.
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig mirrors a local single-broker, single-node development setup.
func defaultConfig() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "consumer-opensearch",
			Topic:         "wikimedia.change",
			StartOffset:   StartOffsetLatest,
			MinBytes:      1,
			MaxBytes:      10e6,
			MaxBatch:      500,
			CommitTimeout: 5 * time.Second,
		},
		OpenSearch: OpenSearchConfig{
			URL:              "http://localhost:9200",
			Index:            "wikimedia",
			RequestTimeout:   10 * time.Second,
			MaxRetries:       3,
			RetryWaitMin:     100 * time.Millisecond,
			RetryWaitMax:     2 * time.Second,
			ProvisionTimeout: 30 * time.Second,
		},
		Bridge: BridgeConfig{
			PollTimeout: 3 * time.Second,
			IDStrategy:  IDStrategyHash,
			IDField:     "id",
			CursorMode:  CursorModeAttempted,
			MaxAttempts: 3,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			DedupTTL: 24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bridge",
			User:            "bridge",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the bridge cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is empty")
	}
	if c.Kafka.Topic == "" {
		problems = append(problems, "kafka.topic is empty")
	}
	if c.Kafka.ConsumerGroup == "" {
		problems = append(problems, "kafka.consumerGroup is empty")
	}
	switch c.Kafka.StartOffset {
	case StartOffsetLatest, StartOffsetEarliest:
	default:
		problems = append(problems, fmt.Sprintf("kafka.startOffset %q is not latest or earliest", c.Kafka.StartOffset))
	}
	if c.OpenSearch.URL == "" {
		problems = append(problems, "opensearch.url is empty")
	}
	if c.OpenSearch.Index == "" {
		problems = append(problems, "opensearch.index is empty")
	}
	if c.Bridge.PollTimeout <= 0 {
		problems = append(problems, "bridge.pollTimeout must be positive")
	}
	switch c.Bridge.IDStrategy {
	case IDStrategyHash:
	case IDStrategyField:
		if c.Bridge.IDField == "" {
			problems = append(problems, "bridge.idField is required for the field strategy")
		}
	default:
		problems = append(problems, fmt.Sprintf("bridge.idStrategy %q is not hash or field", c.Bridge.IDStrategy))
	}
	switch c.Bridge.CursorMode {
	case CursorModeAttempted, CursorModeSucceeded:
	default:
		problems = append(problems, fmt.Sprintf("bridge.cursorMode %q is not attempted or succeeded", c.Bridge.CursorMode))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides reads BRIDGE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BRIDGE_KAFKA_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
	if v := os.Getenv("BRIDGE_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("BRIDGE_KAFKA_START_OFFSET"); v != "" {
		cfg.Kafka.StartOffset = v
	}
	if v := os.Getenv("BRIDGE_OPENSEARCH_URL"); v != "" {
		cfg.OpenSearch.URL = v
	}
	if v := os.Getenv("BRIDGE_OPENSEARCH_INDEX"); v != "" {
		cfg.OpenSearch.Index = v
	}
	if v := os.Getenv("BRIDGE_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bridge.PollTimeout = d
		}
	}
	if v := os.Getenv("BRIDGE_ID_STRATEGY"); v != "" {
		cfg.Bridge.IDStrategy = v
	}
	if v := os.Getenv("BRIDGE_ID_FIELD"); v != "" {
		cfg.Bridge.IDField = v
	}
	if v := os.Getenv("BRIDGE_CURSOR_MODE"); v != "" {
		cfg.Bridge.CursorMode = v
	}
	if v := os.Getenv("BRIDGE_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("BRIDGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BRIDGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BRIDGE_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("BRIDGE_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BRIDGE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BRIDGE_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BRIDGE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BRIDGE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BRIDGE_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
