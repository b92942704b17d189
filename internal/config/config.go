// Package config loads the limiter service configuration from environment
// variables with defaults and validates it before the service starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Append logs to this file instead of stdout
//   - SHUTDOWN_TIMEOUT: Graceful shutdown deadline (default: 10s)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_CONNECT_ATTEMPTS: Startup connection attempts (default: 3)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_KEY_PREFIX: Redis key prefix (default: rate_limiter)
//   - RATE_LIMIT_BACKEND: "transaction" or "lock" (default: transaction)
//   - RATE_LIMIT_LOCK_WAIT: Lock acquisition bound (default: 250ms)
//   - RATE_LIMIT_LOCK_EXPIRY: Lock lease (default: 2s)
//   - RATE_LIMIT_POLICY_FILE: YAML route table overriding the built-in policies
//   - BREAKER_ENABLED: Guard the store with a circuit breaker (default: true)
//   - BREAKER_MAX_FAILURES: Consecutive failures before opening (default: 5)
//   - BREAKER_TIMEOUT: Open state duration (default: 30s)
//
// Identity:
//   - JWT_SECRET: HS256 verification secret (minimum 32 characters)
//   - JWT_PUBLIC_KEY_FILE: PEM file with the RS256 verification key
//   - TRUST_USER_HEADER: Accept X-User-Id from an upstream gateway (default: false)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the limiter service.
// Numeric and duration settings are kept as strings and checked by Validate.
type Config struct {
	// Application settings
	Port            string // Server port number
	LogLevel        string // Logging level (debug, info, warn, error)
	LogFile         string // Optional log file path
	ShutdownTimeout string // Graceful shutdown deadline

	// Redis configuration
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size
	RedisAttempts string // Startup connection attempts

	// Rate limiting configuration
	RateLimitEnabled    bool
	RateLimitKeyPrefix  string
	RateLimitBackend    string // "transaction" or "lock"
	RateLimitLockWait   string
	RateLimitLockExpiry string
	RateLimitPolicyFile string

	BreakerEnabled     bool
	BreakerMaxFailures string
	BreakerTimeout     string

	// Identity configuration
	JWTSecret        string
	JWTPublicKeyFile string
	TrustUserHeader  bool
}

// Load creates a Config from environment variables, falling back to defaults.
// It does not validate; call Validate on the result.
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		ShutdownTimeout: getEnv("SHUTDOWN_TIMEOUT", "10s"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),
		RedisAttempts: getEnv("REDIS_CONNECT_ATTEMPTS", "3"),

		RateLimitEnabled:    getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitKeyPrefix:  getEnv("RATE_LIMIT_KEY_PREFIX", "rate_limiter"),
		RateLimitBackend:    getEnv("RATE_LIMIT_BACKEND", "transaction"),
		RateLimitLockWait:   getEnv("RATE_LIMIT_LOCK_WAIT", "250ms"),
		RateLimitLockExpiry: getEnv("RATE_LIMIT_LOCK_EXPIRY", "2s"),
		RateLimitPolicyFile: getEnv("RATE_LIMIT_POLICY_FILE", ""),

		BreakerEnabled:     getBoolEnv("BREAKER_ENABLED", true),
		BreakerMaxFailures: getEnv("BREAKER_MAX_FAILURES", "5"),
		BreakerTimeout:     getEnv("BREAKER_TIMEOUT", "30s"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTPublicKeyFile: getEnv("JWT_PUBLIC_KEY_FILE", ""),
		TrustUserHeader:  getBoolEnv("TRUST_USER_HEADER", false),
	}
}

// getEnv returns the variable's value, or defaultValue when unset or empty.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings; anything else yields defaultValue.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks every field that the service parses at startup.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	if err := positiveDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}

	if c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required")
	}
	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}
	if c.RedisAttempts != "" {
		if n, err := strconv.Atoi(c.RedisAttempts); err != nil || n < 1 {
			return fmt.Errorf("REDIS_CONNECT_ATTEMPTS must be a positive number")
		}
	}

	if c.RateLimitEnabled {
		switch c.RateLimitBackend {
		case "transaction", "lock":
		default:
			return fmt.Errorf("RATE_LIMIT_BACKEND must be 'transaction' or 'lock'")
		}
		if err := positiveDuration("RATE_LIMIT_LOCK_WAIT", c.RateLimitLockWait); err != nil {
			return err
		}
		if err := positiveDuration("RATE_LIMIT_LOCK_EXPIRY", c.RateLimitLockExpiry); err != nil {
			return err
		}
		if c.LockWait() > c.LockExpiry() {
			return fmt.Errorf("RATE_LIMIT_LOCK_WAIT must not exceed RATE_LIMIT_LOCK_EXPIRY")
		}
	}

	if c.BreakerEnabled {
		if n, err := strconv.Atoi(c.BreakerMaxFailures); err != nil || n < 1 {
			return fmt.Errorf("BREAKER_MAX_FAILURES must be a positive number")
		}
		if err := positiveDuration("BREAKER_TIMEOUT", c.BreakerTimeout); err != nil {
			return err
		}
	}

	if c.JWTSecret != "" && c.JWTPublicKeyFile != "" {
		return fmt.Errorf("set only one of JWT_SECRET and JWT_PUBLIC_KEY_FILE")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	return nil
}

func positiveDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("%s must be a positive duration (e.g., '250ms', '30s')", name)
	}
	return nil
}

// The accessors below assume Validate succeeded.

func (c *Config) RedisDBNumber() int {
	n, _ := strconv.Atoi(c.RedisDB)
	return n
}

func (c *Config) RedisPoolSizeNumber() int {
	n, _ := strconv.Atoi(c.RedisPoolSize)
	return n
}

// RedisConnectAttempts defaults to 1 when unset.
func (c *Config) RedisConnectAttempts() int {
	if n, err := strconv.Atoi(c.RedisAttempts); err == nil && n > 0 {
		return n
	}
	return 1
}

func (c *Config) LockWait() time.Duration {
	d, _ := time.ParseDuration(c.RateLimitLockWait)
	return d
}

func (c *Config) LockExpiry() time.Duration {
	d, _ := time.ParseDuration(c.RateLimitLockExpiry)
	return d
}

func (c *Config) BreakerMaxFailuresNumber() int {
	n, _ := strconv.Atoi(c.BreakerMaxFailures)
	return n
}

func (c *Config) BreakerTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.BreakerTimeout)
	return d
}

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}
