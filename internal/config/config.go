package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ProfitPeek analytics engine.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Recalc     RecalcConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
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
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional job audit sink.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// RecalcConfig holds tunables for the recalculation engine.
type RecalcConfig struct {
	// PageSize bounds every chunked ledger read.
	PageSize int
	// RetryMax is the number of attempts for read-side queries.
	RetryMax int
	// RetryBase is the initial backoff delay, doubled per attempt.
	RetryBase time.Duration
	// LockTTL bounds how long a per-store job lock may be held.
	LockTTL time.Duration
	// ProgressBuffer is the per-observer event buffer size.
	ProgressBuffer int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("PROFITPEEK_HTTP_ADDR", ":8080"),
			Env:             getEnv("PROFITPEEK_ENV", "development"),
			ShutdownTimeout: getDurationEnv("PROFITPEEK_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PROFITPEEK_DB_HOST", "localhost"),
			Port:     getIntEnv("PROFITPEEK_DB_PORT", 5432),
			User:     getEnv("PROFITPEEK_DB_USER", "profitpeek"),
			Password: getEnv("PROFITPEEK_DB_PASSWORD", "profitpeek_secret"),
			DBName:   getEnv("PROFITPEEK_DB_NAME", "profitpeek"),
			SSLMode:  getEnv("PROFITPEEK_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("PROFITPEEK_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("PROFITPEEK_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("PROFITPEEK_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("PROFITPEEK_REDIS_PASSWORD", ""),
			DB:       getIntEnv("PROFITPEEK_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("PROFITPEEK_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("PROFITPEEK_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("PROFITPEEK_CLICKHOUSE_DB", "profitpeek"),
			User:     getEnv("PROFITPEEK_CLICKHOUSE_USER", "default"),
			Password: getEnv("PROFITPEEK_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("PROFITPEEK_AUTH_ENABLED", true),
			MasterKey: getEnv("PROFITPEEK_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("PROFITPEEK_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("PROFITPEEK_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("PROFITPEEK_RATE_LIMIT_RPS", 100),
			Burst:   getIntEnv("PROFITPEEK_RATE_LIMIT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("PROFITPEEK_LOG_LEVEL", "info"),
			Format: getEnv("PROFITPEEK_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("PROFITPEEK_METRICS_ENABLED", true),
			Path:    getEnv("PROFITPEEK_METRICS_PATH", "/metrics"),
		},
		Recalc: RecalcConfig{
			PageSize:       getIntEnv("PROFITPEEK_RECALC_PAGE_SIZE", 1000),
			RetryMax:       getIntEnv("PROFITPEEK_RECALC_RETRY_MAX", 3),
			RetryBase:      getDurationEnv("PROFITPEEK_RECALC_RETRY_BASE", time.Second),
			LockTTL:        getDurationEnv("PROFITPEEK_RECALC_LOCK_TTL", 2*time.Hour),
			ProgressBuffer: getIntEnv("PROFITPEEK_PROGRESS_BUFFER", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("PROFITPEEK_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Recalc.PageSize <= 0 {
		return fmt.Errorf("PROFITPEEK_RECALC_PAGE_SIZE must be positive")
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

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
