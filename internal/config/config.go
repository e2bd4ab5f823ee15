package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Vector Analytics application.
type Config struct {
	Server     ServerConfig
	FactStore  FactStoreConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Query      QueryConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Fact store backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendSQLite     = "sqlite"
)

// FactStoreConfig selects where facts are read from.
type FactStoreConfig struct {
	Backend string
	// Materialize copies the backend into an in-memory snapshot and
	// serves queries from it.
	Materialize    bool
	ReloadSchedule string // cron spec; empty disables scheduled reloads
	ReloadTimeout  time.Duration
	// VersionToken identifies the live backend contents. Empty means the
	// backend is untracked and snapshot tokens are not checked.
	VersionToken string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int

	// StatementTimeout caps a single fact read server side; zero disables.
	StatementTimeout time.Duration
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type ClickHouseConfig struct {
	Addr        string
	Database    string
	User        string
	Password    string
	DialTimeout time.Duration
	MaxConns    int
}

type SQLiteConfig struct {
	Path string
}

// DSN returns the modernc sqlite connection string with read friendly
// pragmas.
func (s SQLiteConfig) DSN() string {
	return s.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// QueryConfig tunes the query engine.
type QueryConfig struct {
	FetchTimeout      time.Duration
	Timezone          string
	DefaultWindowDays int
	TrailingBuckets   int
	MaxLimit          int
	MaxBuckets        int
}

// Location resolves Timezone.
func (q QueryConfig) Location() (*time.Location, error) {
	return time.LoadLocation(q.Timezone)
}

type RateLimitConfig struct {
	Enabled bool
	// RPS and Burst bound all analytics requests together.
	RPS   float64
	Burst int
	// IPRPS and IPBurst bound a single client.
	IPRPS   float64
	IPBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("VECTOR_ANALYTICS_HTTP_ADDR", ":8080"),
			Env:             getEnv("VECTOR_ANALYTICS_ENV", "development"),
			ShutdownTimeout: getDurationEnv("VECTOR_ANALYTICS_SHUTDOWN_TIMEOUT", 30*time.Second),
			ReadTimeout:     getDurationEnv("VECTOR_ANALYTICS_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("VECTOR_ANALYTICS_WRITE_TIMEOUT", 60*time.Second),
		},
		FactStore: FactStoreConfig{
			Backend:        strings.ToLower(getEnv("VECTOR_ANALYTICS_STORE_BACKEND", BackendPostgres)),
			Materialize:    getBoolEnv("VECTOR_ANALYTICS_STORE_MATERIALIZE", true),
			ReloadSchedule: getEnv("VECTOR_ANALYTICS_STORE_RELOAD_SCHEDULE", "*/15 * * * *"),
			ReloadTimeout:  getDurationEnv("VECTOR_ANALYTICS_STORE_RELOAD_TIMEOUT", 5*time.Minute),
			VersionToken:   getEnv("VECTOR_ANALYTICS_STORE_VERSION", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("VECTOR_ANALYTICS_DB_HOST", "localhost"),
			Port:     getIntEnv("VECTOR_ANALYTICS_DB_PORT", 5432),
			User:     getEnv("VECTOR_ANALYTICS_DB_USER", "analytics"),
			Password: getEnv("VECTOR_ANALYTICS_DB_PASSWORD", "analytics_secret"),
			DBName:   getEnv("VECTOR_ANALYTICS_DB_NAME", "ecommerce"),
			SSLMode:  getEnv("VECTOR_ANALYTICS_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("VECTOR_ANALYTICS_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("VECTOR_ANALYTICS_DB_MIN_CONNS", 2),
		},
		ClickHouse: ClickHouseConfig{
			Addr:        getEnv("VECTOR_ANALYTICS_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:    getEnv("VECTOR_ANALYTICS_CLICKHOUSE_DB", "ecommerce"),
			User:        getEnv("VECTOR_ANALYTICS_CLICKHOUSE_USER", "default"),
			Password:    getEnv("VECTOR_ANALYTICS_CLICKHOUSE_PASSWORD", ""),
			DialTimeout: getDurationEnv("VECTOR_ANALYTICS_CLICKHOUSE_DIAL_TIMEOUT", 5*time.Second),
			MaxConns:    getIntEnv("VECTOR_ANALYTICS_CLICKHOUSE_MAX_CONNS", 10),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("VECTOR_ANALYTICS_SQLITE_PATH", "data/ecommerce.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("VECTOR_ANALYTICS_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("VECTOR_ANALYTICS_REDIS_PASSWORD", ""),
			DB:       getIntEnv("VECTOR_ANALYTICS_REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: getBoolEnv("VECTOR_ANALYTICS_CACHE_ENABLED", false),
			TTL:     getDurationEnv("VECTOR_ANALYTICS_CACHE_TTL", 10*time.Minute),
		},
		Query: QueryConfig{
			FetchTimeout:      getDurationEnv("VECTOR_ANALYTICS_FETCH_TIMEOUT", 10*time.Second),
			Timezone:          getEnv("VECTOR_ANALYTICS_TIMEZONE", "UTC"),
			DefaultWindowDays: getIntEnv("VECTOR_ANALYTICS_DEFAULT_WINDOW_DAYS", 30),
			TrailingBuckets:   getIntEnv("VECTOR_ANALYTICS_TRAILING_BUCKETS", 12),
			MaxLimit:          getIntEnv("VECTOR_ANALYTICS_MAX_LIMIT", 1000),
			MaxBuckets:        getIntEnv("VECTOR_ANALYTICS_MAX_BUCKETS", 1000),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("VECTOR_ANALYTICS_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("VECTOR_ANALYTICS_RATE_LIMIT_RPS", 200),
			Burst:   getIntEnv("VECTOR_ANALYTICS_RATE_LIMIT_BURST", 50),
			IPRPS:   getFloatEnv("VECTOR_ANALYTICS_RATE_LIMIT_IP_RPS", 20),
			IPBurst: getIntEnv("VECTOR_ANALYTICS_RATE_LIMIT_IP_BURST", 10),
		},
		Log: LogConfig{
			Level:  getEnv("VECTOR_ANALYTICS_LOG_LEVEL", "info"),
			Format: getEnv("VECTOR_ANALYTICS_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("VECTOR_ANALYTICS_METRICS_ENABLED", true),
			Path:      getEnv("VECTOR_ANALYTICS_METRICS_PATH", "/metrics"),
			Namespace: getEnv("VECTOR_ANALYTICS_METRICS_NAMESPACE", "vector_analytics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	switch c.FactStore.Backend {
	case BackendPostgres, BackendClickHouse, BackendSQLite:
	case BackendMemory:
		if !c.FactStore.Materialize {
			return fmt.Errorf("VECTOR_ANALYTICS_STORE_BACKEND=memory needs VECTOR_ANALYTICS_STORE_MATERIALIZE")
		}
	default:
		return fmt.Errorf("unknown VECTOR_ANALYTICS_STORE_BACKEND %q", c.FactStore.Backend)
	}
	if c.Query.FetchTimeout <= 0 {
		return fmt.Errorf("VECTOR_ANALYTICS_FETCH_TIMEOUT must be positive")
	}
	if _, err := c.Query.Location(); err != nil {
		return fmt.Errorf("VECTOR_ANALYTICS_TIMEZONE: %w", err)
	}
	if c.Query.MaxLimit <= 0 {
		return fmt.Errorf("VECTOR_ANALYTICS_MAX_LIMIT must be positive")
	}
	if c.Query.MaxBuckets <= 0 {
		return fmt.Errorf("VECTOR_ANALYTICS_MAX_BUCKETS must be positive")
	}
	if c.Cache.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("VECTOR_ANALYTICS_REDIS_ADDR is required when the cache is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
