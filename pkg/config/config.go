// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Search, Sync, Tenants, etc.).
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
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Sync     SyncConfig     `yaml:"sync"`
	Tenants  []TenantConfig `yaml:"tenants"`
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

// PostgresConfig holds PostgreSQL connection parameters. When Enabled, the
// sync job history is kept in PostgreSQL instead of the local log file.
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SyncRequests string `yaml:"syncRequests"`
	SyncEvents   string `yaml:"syncEvents"`
}

// RedisConfig holds Redis connection and search-result caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls where tenant snapshots are persisted.
type IndexConfig struct {
	DataDir string `yaml:"dataDir"`
}

// SearchConfig controls query limits and snippet sizing.
type SearchConfig struct {
	MaxResults     int `yaml:"maxResults"`
	DefaultLimit   int `yaml:"defaultLimit"`
	SnippetLength  int `yaml:"snippetLength"`
	MaxQueryLength int `yaml:"maxQueryLength"`
}

// SyncConfig bounds sync concurrency and shapes the retry policy.
// MaxRetries caps the total number of attempts a job may make.
type SyncConfig struct {
	MaxConcurrent     int           `yaml:"maxConcurrent"`
	MaxQueued         int           `yaml:"maxQueued"`
	MaxRetries        int           `yaml:"maxRetries"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
	JobTimeout        time.Duration `yaml:"jobTimeout"`
	AdmitTimeout      time.Duration `yaml:"admitTimeout"`
	HistoryPath       string        `yaml:"historyPath"`
	SubmitRateLimit   int           `yaml:"submitRateLimit"`
	SubmitRateWindow  time.Duration `yaml:"submitRateWindow"`
}

// TenantConfig describes one documentation source.
type TenantConfig struct {
	Name         string        `yaml:"name" json:"name"`
	Source       SourceConfig  `yaml:"source" json:"source"`
	SyncInterval time.Duration `yaml:"syncInterval" json:"sync_interval"`
	Watch        bool          `yaml:"watch" json:"watch"`
}

// SourceConfig carries the fetch parameters for every source kind; each
// fetcher reads only the fields that apply to it.
type SourceConfig struct {
	Type        string        `yaml:"type" json:"type"`
	Root        string        `yaml:"root" json:"root,omitempty"`
	Include     []string      `yaml:"include" json:"include,omitempty"`
	Exclude     []string      `yaml:"exclude" json:"exclude,omitempty"`
	URLs        []string      `yaml:"urls" json:"urls,omitempty"`
	SitemapURL  string        `yaml:"sitemapUrl" json:"sitemap_url,omitempty"`
	MaxPages    int           `yaml:"maxPages" json:"max_pages,omitempty"`
	Concurrency int           `yaml:"concurrency" json:"concurrency,omitempty"`
	Repository  string        `yaml:"repository" json:"repository,omitempty"`
	Branch      string        `yaml:"branch" json:"branch,omitempty"`
	CheckoutDir string        `yaml:"checkoutDir" json:"checkout_dir,omitempty"`
	MaxFileSize int64         `yaml:"maxFileSize" json:"max_file_size,omitempty"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout,omitempty"`
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
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects configurations the sync and search layers cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Sync.MaxConcurrent < 1 {
		problems = append(problems, "sync.maxConcurrent must be at least 1")
	}
	if c.Sync.MaxRetries < 1 {
		problems = append(problems, "sync.maxRetries must be at least 1")
	}
	if c.Sync.MaxQueued < 0 {
		problems = append(problems, "sync.maxQueued must not be negative")
	}
	if c.Sync.JobTimeout <= 0 {
		problems = append(problems, "sync.jobTimeout must be positive")
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxResults < c.Search.DefaultLimit {
		problems = append(problems, "search.defaultLimit must be between 1 and search.maxResults")
	}
	if c.Index.DataDir == "" {
		problems = append(problems, "index.dataDir is required")
	}
	seen := make(map[string]struct{}, len(c.Tenants))
	for i, t := range c.Tenants {
		if err := t.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("tenants[%d]: %v", i, err))
			continue
		}
		if _, dup := seen[t.Name]; dup {
			problems = append(problems, fmt.Sprintf("tenants[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = struct{}{}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks a tenant definition in isolation.
func (t TenantConfig) Validate() error {
	if !validTenantName(t.Name) {
		return fmt.Errorf("name %q must be 1-64 characters of [a-z0-9_-]", t.Name)
	}
	if t.Source.Type == "" {
		return fmt.Errorf("source.type is required")
	}
	if t.SyncInterval < 0 {
		return fmt.Errorf("syncInterval must not be negative")
	}
	return nil
}

func validTenantName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docsearch",
			User:            "docsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docsearch",
			Topics: KafkaTopics{
				SyncRequests: "docsearch.sync-requests",
				SyncEvents:   "docsearch.sync-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			DataDir: "data/index",
		},
		Search: SearchConfig{
			MaxResults:     100,
			DefaultLimit:   10,
			SnippetLength:  240,
			MaxQueryLength: 1024,
		},
		Sync: SyncConfig{
			MaxConcurrent:     4,
			MaxQueued:         64,
			MaxRetries:        3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        2 * time.Minute,
			BackoffMultiplier: 2.0,
			JobTimeout:        30 * time.Minute,
			AdmitTimeout:      10 * time.Minute,
			HistoryPath:       "data/sync-history.jsonl",
			SubmitRateLimit:   30,
			SubmitRateWindow:  time.Minute,
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

// applyEnvOverrides reads DS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DS_POSTGRES_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = enabled
		}
	}
	if v := os.Getenv("DS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DS_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("DS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DS_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("DS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DS_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("DS_SYNC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxConcurrent = n
		}
	}
	if v := os.Getenv("DS_SYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("DS_SYNC_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.JobTimeout = d
		}
	}
	if v := os.Getenv("DS_SYNC_HISTORY_PATH"); v != "" {
		cfg.Sync.HistoryPath = v
	}
	if v := os.Getenv("DS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
