package ratelimit

import (
	"fmt"
	"time"

	"window-limiter/internal/circuitbreaker"
	"window-limiter/internal/locks"
)

// BackendType selects how the sliding-window batch is made atomic.
type BackendType string

const (
	// BackendTransaction runs the batch inside MULTI/EXEC.
	BackendTransaction BackendType = "transaction"
	// BackendLock runs a plain pipeline under a per-key redsync lock.
	BackendLock BackendType = "lock"
)

// Config represents rate limiter configuration
type Config struct {
	Enabled   bool        `json:"enabled" yaml:"enabled"`
	KeyPrefix string      `json:"key_prefix" yaml:"key_prefix"`
	Backend   BackendType `json:"backend" yaml:"backend"`

	// Lock settings, used by BackendLock
	Lock locks.Config `json:"lock" yaml:"lock"`

	BreakerEnabled bool                  `json:"breaker_enabled" yaml:"breaker_enabled"`
	Breaker        circuitbreaker.Config `json:"breaker" yaml:"breaker"`
}

// DefaultConfig returns a default rate limiter configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		KeyPrefix:      DefaultKeyPrefix,
		Backend:        BackendTransaction,
		Lock:           locks.DefaultConfig(),
		BreakerEnabled: true,
		Breaker:        circuitbreaker.DefaultConfig(),
	}
}

// Validate fills defaults and rejects unusable settings
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.Backend == "" {
		c.Backend = BackendTransaction
	}

	switch c.Backend {
	case BackendTransaction:
	case BackendLock:
		if c.Lock.Wait < 0 || c.Lock.Expiry < 0 {
			return fmt.Errorf("lock wait and expiry must not be negative")
		}
		if c.Lock.Expiry > 0 && c.Lock.Wait > c.Lock.Expiry {
			return fmt.Errorf("lock wait (%v) must not exceed lock expiry (%v)", c.Lock.Wait, c.Lock.Expiry)
		}
	default:
		return fmt.Errorf("unsupported rate limiter backend type: %s", c.Backend)
	}

	if c.BreakerEnabled {
		if err := c.Breaker.Validate(); err != nil {
			return fmt.Errorf("invalid breaker config: %w", err)
		}
	}

	return nil
}

// ConfigBuilder provides a fluent interface for building rate limiter configurations
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder creates a new configuration builder with defaults
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

// WithEnabled turns limiting on or off
func (cb *ConfigBuilder) WithEnabled(enabled bool) *ConfigBuilder {
	cb.config.Enabled = enabled
	return cb
}

// WithKeyPrefix sets the store key prefix
func (cb *ConfigBuilder) WithKeyPrefix(prefix string) *ConfigBuilder {
	cb.config.KeyPrefix = prefix
	return cb
}

// WithLockBackend switches to the lock backend with the given wait and expiry
func (cb *ConfigBuilder) WithLockBackend(wait, expiry time.Duration) *ConfigBuilder {
	cb.config.Backend = BackendLock
	cb.config.Lock.Wait = wait
	cb.config.Lock.Expiry = expiry
	return cb
}

// WithBreaker configures the circuit breaker; a zero MaxFailures disables it
func (cb *ConfigBuilder) WithBreaker(maxFailures int, timeout time.Duration) *ConfigBuilder {
	cb.config.BreakerEnabled = maxFailures > 0
	cb.config.Breaker.MaxFailures = maxFailures
	cb.config.Breaker.Timeout = timeout
	return cb
}

// Build validates and returns the configuration
func (cb *ConfigBuilder) Build() (Config, error) {
	config := cb.config
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
