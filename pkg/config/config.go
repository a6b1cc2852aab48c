package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/storage"
)

// Config holds all application configuration.
type Config struct {
	// Organization this deployment serves.
	OrganizationID string

	// Storage configuration
	Storage storage.Config

	// Cache configuration
	Cache CacheConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// CacheConfig controls the permission result cache.
type CacheConfig struct {
	// Mode is one of "off", "lru", or "redis".
	Mode string

	// Size is the entry capacity of the in-process LRU cache.
	Size int

	// TTL bounds how long a resolved permission set is served without
	// re-resolving.
	TTL time.Duration

	// Redis connection settings, used when Mode is "redis".
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		OrganizationID: getEnv("GATEHOUSE_ORGANIZATION_ID", ""),
		Storage:        loadStorageConfig(),
		Cache:          loadCacheConfig(),
		Observability:  loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if dbURL := getEnv("GATEHOUSE_DATABASE_URL", ""); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if maxConns := getEnvInt("GATEHOUSE_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("GATEHOUSE_DATABASE_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if timeout := getEnvDuration("GATEHOUSE_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.ConnectTimeout = timeout
	}
	if lifetime := getEnvDuration("GATEHOUSE_DATABASE_CONN_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}

	return cfg
}

// loadCacheConfig loads permission cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Mode:          strings.ToLower(getEnv("GATEHOUSE_CACHE_MODE", "lru")),
		Size:          getEnvInt("GATEHOUSE_CACHE_SIZE", 4096),
		TTL:           getEnvDuration("GATEHOUSE_CACHE_TTL", 30*time.Second),
		RedisAddr:     getEnv("GATEHOUSE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("GATEHOUSE_REDIS_DB", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Cache.Mode {
	case "off", "lru", "redis":
	default:
		return fmt.Errorf("invalid cache mode: %s (must be off, lru, or redis)", c.Cache.Mode)
	}
	if c.Cache.Mode != "off" {
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
	}
	if c.Cache.Mode == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis address is required for redis cache mode")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
