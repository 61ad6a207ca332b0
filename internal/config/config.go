// Package config provides configuration management for the ingestion core.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Batch     BatchConfig
	Cache     CacheConfig
	RPC       RPCConfig
	Logging   LoggingConfig
}

// ServerConfig holds the operational HTTP surface's listen configuration.
type ServerConfig struct {
	Host           string
	Port           string
	RateLimitRPS   int
	RateLimitBurst int
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds configuration for the Bulk Writer's optional
// dedup-ahead cache.
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	TTL            time.Duration
}

// BatchConfig holds pre-fetch batch processor configuration (spec §6).
type BatchConfig struct {
	Size                   int
	MaxConcurrentRPCCalls  int
	RateLimitPerMinute     int
	ScheduleInterval       time.Duration
	ChainID                string
	PrefetchEnabled        bool
	MaxConsecutiveFailures int
}

// CacheConfig holds address cache configuration (spec §6).
type CacheConfig struct {
	Enabled            bool
	MaxSize            int
	DefaultValue       int
	DecayAmount        int
	LRUEvictionEnabled bool
	BatchEvictionSize  int
	MemoryCheckEnabled bool
	TargetMemoryPercent int
	MinCacheSize       int
}

// RPCConfig holds upstream JSON-RPC client configuration (spec §6).
type RPCConfig struct {
	Endpoint       string
	TimeoutSeconds int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from a .env file (if present) and
// environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			RateLimitRPS:   getEnvAsInt("SERVER_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "chain_data"),
				User:           getEnv("POSTGRES_USER", "chain_data"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				TTL:            getEnvAsDuration("REDIS_DEDUP_TTL", 10*time.Minute),
			},
		},
		Batch: BatchConfig{
			Size:                   getEnvAsInt("BATCH_SIZE", 150),
			MaxConcurrentRPCCalls:  getEnvAsInt("BATCH_MAX_CONCURRENT_RPC_CALLS", 10),
			RateLimitPerMinute:     getEnvAsInt("BATCH_RATE_LIMIT_PER_MINUTE", 1500),
			ScheduleInterval:       getEnvAsDuration("BATCH_SCHEDULE_INTERVAL", 10*time.Second),
			ChainID:                getEnv("BATCH_CHAIN_ID", "1"),
			PrefetchEnabled:        getEnvAsBool("BATCH_PREFETCH_ENABLED", true),
			MaxConsecutiveFailures: getEnvAsInt("BATCH_MAX_CONSECUTIVE_FAILURES", 0),
		},
		Cache: CacheConfig{
			Enabled:             getEnvAsBool("CACHE_ENABLED", true),
			MaxSize:             getEnvAsInt("CACHE_MAX_SIZE", 1_000_000),
			DefaultValue:        getEnvAsInt("CACHE_DEFAULT_VALUE", 50),
			DecayAmount:         getEnvAsInt("CACHE_DECAY_AMOUNT", 2),
			LRUEvictionEnabled:  getEnvAsBool("CACHE_LRU_EVICTION_ENABLED", true),
			BatchEvictionSize:   getEnvAsInt("CACHE_BATCH_EVICTION_SIZE", 10_000),
			MemoryCheckEnabled:  getEnvAsBool("CACHE_MEMORY_CHECK_ENABLED", true),
			TargetMemoryPercent: getEnvAsInt("CACHE_TARGET_MEMORY_PERCENT", 80),
			MinCacheSize:        getEnvAsInt("CACHE_MIN_CACHE_SIZE", 100_000),
		},
		RPC: RPCConfig{
			Endpoint:       getEnv("RPC_ENDPOINT", ""),
			TimeoutSeconds: getEnvAsInt("RPC_TIMEOUT_SECONDS", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
