// Package config loads and validates the rewriter configuration from YAML
// files with environment-variable overrides. It provides typed structs for the
// HTTP server, the rewriter feature set, the statistics backends and the
// ambient infrastructure (Postgres, Redis, Kafka, logging, metrics).
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
	Rewriter RewriterConfig `yaml:"rewriter"`
	Stats    StatsConfig    `yaml:"stats"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// RewriterConfig controls the weighted dependency-model rewrite. A nil
// Features list selects the built-in default feature set.
type RewriterConfig struct {
	Verbose        bool            `yaml:"verbose"`
	Norm           bool            `yaml:"norm"`
	Stemmer        string          `yaml:"stemmer"`
	DefaultPart    string          `yaml:"defaultPart"`
	AvailableParts []string        `yaml:"availableParts"`
	Features       []FeatureConfig `yaml:"features"`
}

// FeatureConfig is one feature record. Pointer fields distinguish "unset"
// from an explicit zero value so the arity defaults can cascade.
type FeatureConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Type    string   `yaml:"type" json:"type,omitempty"`
	Lambda  *float64 `yaml:"lambda" json:"lambda,omitempty"`
	Group   string   `yaml:"group" json:"group,omitempty"`
	Part    string   `yaml:"part" json:"part,omitempty"`
	Unigram *bool    `yaml:"unigram" json:"unigram,omitempty"`
	Bigram  *bool    `yaml:"bigram" json:"bigram,omitempty"`
	Trigram *bool    `yaml:"trigram" json:"trigram,omitempty"`
	Path    string   `yaml:"path" json:"path,omitempty"`
}

// StatsConfig selects and tunes the statistics backend.
type StatsConfig struct {
	Backend        string               `yaml:"backend"`
	StaticPath     string               `yaml:"staticPath"`
	CacheTTL       time.Duration        `yaml:"cacheTTL"`
	// LocalCacheSize bounds the in-process answer cache in front of a remote
	// backend; 0 disables it.
	LocalCacheSize int                  `yaml:"localCacheSize"`
	Timeout        time.Duration        `yaml:"timeout"`
	Breaker        CircuitBreakerConfig `yaml:"breaker"`
}

// CircuitBreakerConfig guards the remote statistics backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters for the shared statistics
// cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds the broker list and the rewrite audit topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
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
// overrides. Missing values keep their defaults.
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
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  5 * time.Second,
		},
		Rewriter: RewriterConfig{
			Stemmer: "porter",
		},
		Stats: StatsConfig{
			Backend:        "static",
			CacheTTL:       10 * time.Minute,
			LocalCacheSize: 10000,
			Timeout:        2 * time.Second,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "rwsdm",
			User:            "rwsdm",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "rewrite-events",
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

// applyEnvOverrides reads RW_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RW_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Rewriter.Verbose = b
		}
	}
	if v := os.Getenv("RW_NORM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Rewriter.Norm = b
		}
	}
	if v := os.Getenv("RW_STEMMER"); v != "" {
		cfg.Rewriter.Stemmer = v
	}
	if v := os.Getenv("RW_STATS_BACKEND"); v != "" {
		cfg.Stats.Backend = v
	}
	if v := os.Getenv("RW_STATS_STATIC_PATH"); v != "" {
		cfg.Stats.StaticPath = v
	}
	if v := os.Getenv("RW_STATS_LOCAL_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stats.LocalCacheSize = n
		}
	}
	if v := os.Getenv("RW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RW_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RW_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("RW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("RW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RW_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
