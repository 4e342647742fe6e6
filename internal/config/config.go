package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// ClickHouse (raw kill-event archive)
	ClickHouseHost string
	ClickHousePort int
	ClickHouseDB   string

	// SQLite (player aggregate store)
	StatsDBPath string

	// BoltDB (checkpoint store)
	CheckpointDBPath string

	// NATS (notification sink), optional
	NATSEnabled bool
	NATSURL     string

	// Server roster file
	ServersPath string

	// Polling intervals per parser kind
	KillfeedInterval   time.Duration
	UnifiedInterval    time.Duration
	HistoricalInterval time.Duration

	// Worker pool size for concurrent (guild, server) processing
	MaxWorkers int

	// Connection pool
	PoolMaxPerEndpoint int
	AcquireTimeout     time.Duration
	DialTimeout        time.Duration
	BreakerThreshold   int
	BreakerCooldown    time.Duration

	// Session locks
	LockTimeout time.Duration

	// Batch processor
	ReplayBatchSize int

	// Observability
	LogLevel       string
	LogFile        string
	MetricsPort    int
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ClickHouseHost: getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort: getEnvInt("CLICKHOUSE_PORT", 9000),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "killfeed"),

		StatsDBPath:      getEnv("STATS_DB_PATH", "data/stats.db"),
		CheckpointDBPath: getEnv("CHECKPOINT_DB_PATH", "data/checkpoints.db"),

		NATSEnabled: getEnvBool("NATS_ENABLED", false),
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),

		ServersPath: getEnv("SERVERS_PATH", "configs/servers.yaml"),

		KillfeedInterval:   getEnvDuration("KILLFEED_INTERVAL", 90*time.Second),
		UnifiedInterval:    getEnvDuration("UNIFIED_INTERVAL", 60*time.Second),
		HistoricalInterval: getEnvDuration("HISTORICAL_INTERVAL", 24*time.Hour),

		MaxWorkers: getEnvInt("MAX_WORKERS", 8),

		PoolMaxPerEndpoint: getEnvInt("POOL_MAX_PER_ENDPOINT", 3),
		AcquireTimeout:     getEnvDuration("ACQUIRE_TIMEOUT", 30*time.Second),
		DialTimeout:        getEnvDuration("DIAL_TIMEOUT", 15*time.Second),
		BreakerThreshold:   getEnvInt("BREAKER_THRESHOLD", 3),
		BreakerCooldown:    getEnvDuration("BREAKER_COOLDOWN", 5*time.Minute),

		LockTimeout: getEnvDuration("LOCK_TIMEOUT", time.Hour),

		ReplayBatchSize: getEnvInt("REPLAY_BATCH_SIZE", 250),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		MetricsPort:    getEnvInt("METRICS_PORT", 9182),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),
		OTLPProtocol:   getEnv("OTLP_PROTOCOL", "grpc"),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required")
	}
	if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
		return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
	}
	if c.ServersPath == "" {
		return fmt.Errorf("SERVERS_PATH is required")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1")
	}
	if c.PoolMaxPerEndpoint < 1 {
		return fmt.Errorf("POOL_MAX_PER_ENDPOINT must be at least 1")
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be at least 1")
	}
	if c.ReplayBatchSize < 1 {
		return fmt.Errorf("REPLAY_BATCH_SIZE must be at least 1")
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 1 and 65535")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable (Go syntax, e.g. "90s")
// or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
