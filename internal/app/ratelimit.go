package app

import (
	"window-limiter/internal/common/logging"
	"window-limiter/internal/ratelimit"
)

// rateLimitConfig maps the environment settings onto the limiter config
func (app *App) rateLimitConfig() ratelimit.Config {
	config := ratelimit.DefaultConfig()
	config.Enabled = app.Config.RateLimitEnabled
	config.KeyPrefix = app.Config.RateLimitKeyPrefix
	config.Backend = ratelimit.BackendType(app.Config.RateLimitBackend)
	config.Lock.Wait = app.Config.LockWait()
	config.Lock.Expiry = app.Config.LockExpiry()
	config.BreakerEnabled = app.Config.BreakerEnabled
	if app.Config.BreakerEnabled {
		config.Breaker.MaxFailures = app.Config.BreakerMaxFailuresNumber()
		config.Breaker.Timeout = app.Config.BreakerTimeoutDuration()
	}
	return config
}

func (app *App) initializeRateLimiter() error {
	if app.RedisClient == nil {
		app.Logger.Info("Rate Limiting: Disabled")
		return nil
	}

	components, err := ratelimit.New(app.rateLimitConfig(), app.RedisClient, app.Logger)
	if err != nil {
		return err
	}

	app.Limiter = components.Limiter
	app.Breaker = components.Breaker
	app.Logger.Info("Rate Limiting: Enabled", logging.Int("routes", len(app.Routes)))
	return nil
}
