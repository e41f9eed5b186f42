// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Backref, Watch, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Backref  BackrefConfig  `yaml:"backref"`
	Watch    WatchConfig    `yaml:"watch"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds the unit registry connection parameters. An empty
// Host disables the registry.
type PostgresConfig struct {
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	UnitEvents      string `yaml:"unitEvents"`
	RebuildRequests string `yaml:"rebuildRequests"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls where an index lives and how aggressively it
// buffers writes.
type IndexerConfig struct {
	DataDir         string        `yaml:"dataDir"`
	Name            string        `yaml:"name"`
	Shards          int           `yaml:"shards"`
	Analyzer        string        `yaml:"analyzer"`
	SchemaVersion   int           `yaml:"schemaVersion"`
	CacheSize       int           `yaml:"cacheSize"`
	WriteBufferSize int64         `yaml:"writeBufferSize"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	FailOnRebuild   bool          `yaml:"failOnRebuild"`
}

// BackrefConfig controls the batched reference-index writer.
type BackrefConfig struct {
	IndexDir       string `yaml:"indexDir"`
	BatchThreshold int    `yaml:"batchThreshold"`
	MaxQueued      int    `yaml:"maxQueued"`
	FlushRetries   int    `yaml:"flushRetries"`
}

// WatchConfig enables the directory watcher unit source when Dir is set.
type WatchConfig struct {
	Dir     string   `yaml:"dir"`
	Include []string `yaml:"include"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or an error if the result does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "incrindex",
			User:            "incrindex",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "incrindex-group",
			Topics: KafkaTopics{
				UnitEvents:      "unit-events",
				RebuildRequests: "index.rebuild",
			},
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Indexer: DefaultIndexer(),
		Backref: BackrefConfig{
			IndexDir:       "data/backref",
			BatchThreshold: 100,
			MaxQueued:      10000,
			FlushRetries:   5,
		},
		Watch: WatchConfig{
			Include: []string{"**/*"},
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

// DefaultIndexer returns the indexer defaults on their own, for callers that
// build an engine without a full Config.
func DefaultIndexer() IndexerConfig {
	return IndexerConfig{
		DataDir:         "data/index",
		Name:            "words",
		Shards:          4,
		Analyzer:        "whitespace",
		SchemaVersion:   1,
		CacheSize:       4096,
		WriteBufferSize: 4 << 20,
		FlushInterval:   30 * time.Second,
	}
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if c.Indexer.DataDir == "" {
		return fmt.Errorf("indexer.dataDir is required")
	}
	if c.Indexer.Name == "" {
		return fmt.Errorf("indexer.name is required")
	}
	if c.Indexer.Shards <= 0 {
		return fmt.Errorf("indexer.shards must be positive, got %d", c.Indexer.Shards)
	}
	switch c.Indexer.Analyzer {
	case "whitespace", "stemmed":
	default:
		return fmt.Errorf("indexer.analyzer must be whitespace or stemmed, got %q", c.Indexer.Analyzer)
	}
	if c.Backref.BatchThreshold <= 0 {
		return fmt.Errorf("backref.batchThreshold must be positive, got %d", c.Backref.BatchThreshold)
	}
	if c.Backref.MaxQueued <= c.Backref.BatchThreshold {
		return fmt.Errorf("backref.maxQueued (%d) must exceed batchThreshold (%d)",
			c.Backref.MaxQueued, c.Backref.BatchThreshold)
	}
	return nil
}

// applyEnvOverrides reads IIX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IIX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("IIX_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("IIX_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("IIX_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("IIX_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("IIX_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("IIX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("IIX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("IIX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("IIX_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("IIX_INDEXER_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.Shards = n
		}
	}
	if v := os.Getenv("IIX_INDEXER_ANALYZER"); v != "" {
		cfg.Indexer.Analyzer = v
	}
	if v := os.Getenv("IIX_BACKREF_INDEX_DIR"); v != "" {
		cfg.Backref.IndexDir = v
	}
	if v := os.Getenv("IIX_WATCH_DIR"); v != "" {
		cfg.Watch.Dir = v
	}
	if v := os.Getenv("IIX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IIX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
