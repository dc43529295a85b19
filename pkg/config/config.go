// Package config loads and validates application configuration from YAML files
// with .env and environment-variable overrides. It provides typed structs for
// every subsystem (Server, Postgres, Redis, Kafka, Backend, Workspace, Sync,
// Query, Monitor, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Backend   BackendConfig   `yaml:"backend"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Sync      SyncConfig      `yaml:"sync"`
	Query     QueryConfig     `yaml:"query"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// SyncTimeout bounds a single sync trigger; sync runs are far slower
	// than ordinary requests.
	SyncTimeout time.Duration `yaml:"syncTimeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*" admits
	// any. Empty disables CORS handling.
	CORSOrigins []string `yaml:"corsOrigins"`
	CORSMaxAge  int      `yaml:"corsMaxAge"`
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
	Migrate         bool          `yaml:"migrate"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the answer cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	UsageEvents string `yaml:"usageEvents"`
}

// BackendConfig configures the managed search-and-generation backend.
type BackendConfig struct {
	APIKey          string        `yaml:"apiKey"`
	BaseURL         string        `yaml:"baseUrl"`
	ChatModel       string        `yaml:"chatModel"`
	VectorStoreName string        `yaml:"vectorStoreName"`
	UploadPoll      time.Duration `yaml:"uploadPoll"`
	UploadTimeout   time.Duration `yaml:"uploadTimeout"`
	Retry           RetryConfig   `yaml:"retry"`
}

// WorkspaceConfig configures the hierarchical workspace content API.
type WorkspaceConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	Token          string        `yaml:"token"`
	APIVersion     string        `yaml:"apiVersion"`
	VersionHeader  string        `yaml:"versionHeader"`
	RequestsPerSec float64       `yaml:"requestsPerSec"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SyncConfig holds defaults and limits for workspace sync runs.
type SyncConfig struct {
	DefaultPageSize int         `yaml:"defaultPageSize"`
	DefaultMaxPages int         `yaml:"defaultMaxPages"`
	MaxPagesLimit   int         `yaml:"maxPagesLimit"`
	Retry           RetryConfig `yaml:"retry"`
}

// RetryConfig is the YAML form of resilience.RetryConfig.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// QueryConfig controls query validation, caching and generation.
type QueryConfig struct {
	MinLength           int           `yaml:"minLength"`
	MaxLength           int           `yaml:"maxLength"`
	DefaultLimit        int           `yaml:"defaultLimit"`
	MaxLimit            int           `yaml:"maxLimit"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold"`
	CacheTTL            time.Duration `yaml:"cacheTTL"`
	MemoryCacheSize     int           `yaml:"memoryCacheSize"`
	GenerateTimeout     time.Duration `yaml:"generateTimeout"`
}

// MonitorConfig controls usage-event persistence and warning thresholds.
type MonitorConfig struct {
	// Sink is one of "postgres", "kafka" or "none".
	Sink             string        `yaml:"sink"`
	LatencyThreshold time.Duration `yaml:"latencyThreshold"`
	// SnapshotInterval is how often aggregates are persisted; zero disables.
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// AuthConfig lists the static API tokens accepted by the trigger endpoints
// and the per-token request budget.
type AuthConfig struct {
	Tokens             []string `yaml:"tokens"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
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

// Load reads a YAML config file (if provided), then an optional .env file,
// then applies RP_* environment-variable overrides. It returns a Config
// populated with defaults for any missing values.
func Load(path string, envFile string) (*Config, error) {
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
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			SyncTimeout:     15 * time.Minute,
			CORSMaxAge:      86400,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "retrieval",
			User:            "retrieval",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "retrieval-usage",
			Topics: KafkaTopics{
				UsageEvents: "usage-events",
			},
		},
		Backend: BackendConfig{
			ChatModel:       "gpt-4o-mini",
			VectorStoreName: "retrieval-corpus",
			UploadPoll:      time.Second,
			UploadTimeout:   2 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: time.Second,
				MaxDelay:     8 * time.Second,
			},
		},
		Workspace: WorkspaceConfig{
			BaseURL:        "https://api.notion.com",
			APIVersion:     "2022-06-28",
			VersionHeader:  "Notion-Version",
			RequestsPerSec: 3,
			Timeout:        30 * time.Second,
		},
		Sync: SyncConfig{
			DefaultPageSize: 100,
			DefaultMaxPages: 100,
			MaxPagesLimit:   1000,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: time.Second,
				MaxDelay:     16 * time.Second,
			},
		},
		Query: QueryConfig{
			MinLength:           3,
			MaxLength:           500,
			DefaultLimit:        3,
			MaxLimit:            10,
			ConfidenceThreshold: 0.7,
			CacheTTL:            24 * time.Hour,
			MemoryCacheSize:     1000,
			GenerateTimeout:     45 * time.Second,
		},
		Monitor: MonitorConfig{
			Sink:             "postgres",
			LatencyThreshold: 5 * time.Second,
			SnapshotInterval: time.Minute,
		},
		Auth: AuthConfig{
			RateLimitPerMinute: 120,
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

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Sync.DefaultPageSize < 1 || c.Sync.DefaultPageSize > 100 {
		problems = append(problems, "sync.defaultPageSize must be between 1 and 100")
	}
	if c.Sync.MaxPagesLimit < 1 {
		problems = append(problems, "sync.maxPagesLimit must be positive")
	}
	if c.Sync.DefaultMaxPages < 1 || c.Sync.DefaultMaxPages > c.Sync.MaxPagesLimit {
		problems = append(problems, "sync.defaultMaxPages must be between 1 and sync.maxPagesLimit")
	}
	if c.Query.MinLength < 1 || c.Query.MaxLength < c.Query.MinLength {
		problems = append(problems, "query.minLength/maxLength are out of order")
	}
	if c.Query.DefaultLimit < 1 || c.Query.DefaultLimit > c.Query.MaxLimit {
		problems = append(problems, "query.defaultLimit must be between 1 and query.maxLimit")
	}
	if c.Query.ConfidenceThreshold < 0 || c.Query.ConfidenceThreshold > 1 {
		problems = append(problems, "query.confidenceThreshold must be within [0,1]")
	}
	if c.Query.CacheTTL <= 0 {
		problems = append(problems, "query.cacheTTL must be positive")
	}
	switch c.Monitor.Sink {
	case "postgres", "kafka", "none":
	default:
		problems = append(problems, fmt.Sprintf("monitor.sink %q is not one of postgres, kafka, none", c.Monitor.Sink))
	}
	if c.Workspace.RequestsPerSec <= 0 {
		problems = append(problems, "workspace.requestsPerSec must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides reads RP_* environment variables and overrides the
// corresponding config fields. Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	setInt("RP_SERVER_PORT", &cfg.Server.Port)
	setString("RP_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("RP_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("RP_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("RP_POSTGRES_USER", &cfg.Postgres.User)
	setString("RP_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("RP_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	setBool("RP_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("RP_REDIS_ADDR", &cfg.Redis.Addr)
	setString("RP_REDIS_PASSWORD", &cfg.Redis.Password)
	if v := os.Getenv("RP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("RP_BACKEND_API_KEY", &cfg.Backend.APIKey)
	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	setString("RP_BACKEND_BASE_URL", &cfg.Backend.BaseURL)
	setString("RP_BACKEND_CHAT_MODEL", &cfg.Backend.ChatModel)
	setString("RP_BACKEND_VECTOR_STORE", &cfg.Backend.VectorStoreName)
	setString("RP_WORKSPACE_BASE_URL", &cfg.Workspace.BaseURL)
	setString("RP_WORKSPACE_TOKEN", &cfg.Workspace.Token)
	setString("RP_MONITOR_SINK", &cfg.Monitor.Sink)
	if v := os.Getenv("RP_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("RP_AUTH_TOKENS"); v != "" {
		cfg.Auth.Tokens = strings.Split(v, ",")
	}
	setString("RP_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("RP_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("RP_METRICS_PORT", &cfg.Metrics.Port)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
