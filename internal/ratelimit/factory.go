package ratelimit

import (
	"window-limiter/internal/circuitbreaker"
	"window-limiter/internal/common/errors"
	"window-limiter/internal/common/logging"
	"window-limiter/internal/locks"
	"window-limiter/internal/redis"
)

// Components is what New assembles from a Config.
type Components struct {
	Limiter *Limiter
	// Breaker is nil when the breaker is disabled.
	Breaker *circuitbreaker.GoBreakerAdapter
}

// New builds a limiter for config on top of redisClient: the MULTI/EXEC or
// lock backend, optionally behind a circuit breaker.
func New(config Config, redisClient *redis.Client, logger logging.Logger, opts ...Option) (*Components, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(err.Error())
	}
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required for the rate limiter")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.String("component", "ratelimit"))

	var store Store
	switch config.Backend {
	case BackendLock:
		manager, err := locks.NewRedsyncManager(redisClient, config.Lock)
		if err != nil {
			return nil, err
		}
		store = NewLockedStore(redisClient, manager, logger)
	default:
		store = redisClient
	}

	components := &Components{}
	if config.BreakerEnabled {
		components.Breaker = circuitbreaker.NewGoBreaker("ratelimit-store", config.Breaker, logger)
		store = NewBreakerStore(store, components.Breaker)
	}

	options := append([]Option{WithKeyPrefix(config.KeyPrefix), WithLogger(logger)}, opts...)
	components.Limiter = NewLimiter(store, options...)

	logger.Info("Rate limiter initialized",
		logging.String("backend", string(config.Backend)),
		logging.String("key_prefix", config.KeyPrefix),
		logging.Bool("breaker", config.BreakerEnabled),
	)
	return components, nil
}
