package app

import (
	"net/http"

	"window-limiter/internal/circuitbreaker"
	"window-limiter/internal/common/logging"
	"window-limiter/internal/config"
	"window-limiter/internal/ratelimit"
	"window-limiter/internal/redis"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Limiter     *ratelimit.Limiter
	Breaker     *circuitbreaker.GoBreakerAdapter
	Guard       *ratelimit.Guard
	Routes      []ratelimit.RouteRule
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	routes, err := ratelimit.LoadRoutes(cfg.RateLimitPolicyFile)
	if err != nil {
		return nil, err
	}
	app.Routes = routes

	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	if err := app.initializeRateLimiter(); err != nil {
		app.Cleanup()
		return nil, err
	}

	resolver, err := app.initializeIdentity()
	if err != nil {
		app.Cleanup()
		return nil, err
	}

	guardOpts := []ratelimit.GuardOption{
		ratelimit.WithIdentityResolver(resolver),
		ratelimit.WithGuardLogger(app.Logger),
		ratelimit.WithEnabled(app.Limiter != nil),
	}
	var evaluator ratelimit.Evaluator
	if app.Limiter != nil {
		evaluator = app.Limiter
	}
	app.Guard = ratelimit.NewGuard(evaluator, guardOpts...)

	return app, nil
}

// Handler builds the router with every configured route behind the guard
func (app *App) Handler() (http.Handler, error) {
	return SetupRoutes(app.Guard, app.Routes, app.handleHealth)
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
		app.RedisClient = nil
	}
}
