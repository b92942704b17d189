package app

import (
	"context"

	"window-limiter/internal/common/logging"
	"window-limiter/internal/common/utils"
	"window-limiter/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.RateLimitEnabled {
		app.Logger.Info("Redis: Not connected (rate limiting disabled)")
		return nil
	}

	redisConfig := &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBNumber(),
		PoolSize: app.Config.RedisPoolSizeNumber(),
	}

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = app.Config.RedisConnectAttempts()

	attempt := 0
	err := utils.RetryWithBackoff(context.Background(), retry, func(context.Context) error {
		attempt++
		client, err := redis.NewClient(redisConfig)
		if err != nil {
			app.Logger.Warn("Redis: Connection attempt failed",
				logging.Int("attempt", attempt),
				logging.Err(err),
			)
			return err
		}
		app.RedisClient = client
		return nil
	})
	if err != nil {
		return err
	}

	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
	return nil
}
