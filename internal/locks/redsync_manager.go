// Package locks provides per-key exclusive locks on top of the Redlock
// implementation in go-redsync/redsync/v4.
//
// The rate limiter only needs these when it runs its sliding-window batch
// without MULTI/EXEC: the lock then serialises trim, count, insert and expire
// for one key. Acquisition waits for a bounded time and reports a lock
// timeout instead of blocking the request indefinitely.
package locks

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"window-limiter/internal/common/errors"
	"window-limiter/internal/redis"
)

const keyPrefix = "lock:"

// Config controls how long a lock lives and how long callers wait for it.
type Config struct {
	// Expiry bounds how long a crashed holder can keep the key locked.
	Expiry time.Duration
	// Wait is the longest time Acquire blocks before giving up.
	Wait time.Duration
	// RetryDelay is the pause between acquisition attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns settings sized for a single short Redis pipeline.
func DefaultConfig() Config {
	return Config{
		Expiry:     2 * time.Second,
		Wait:       250 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
	}
}

// RedsyncManager hands out redsync mutexes named after rate limit keys.
type RedsyncManager struct {
	redsync *redsync.Redsync
	config  Config
}

// Lock is a held mutex. Release must be called exactly once.
type Lock struct {
	mutex    *redsync.Mutex
	key      string
	acquired time.Time
}

// NewRedsyncManager creates a lock manager sharing the limiter's Redis connection pool.
func NewRedsyncManager(redisClient *redis.Client, config Config) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	defaults := DefaultConfig()
	if config.Expiry <= 0 {
		config.Expiry = defaults.Expiry
	}
	if config.Wait <= 0 {
		config.Wait = defaults.Wait
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	pool := goredis.NewPool(redisClient.GoRedis())

	return &RedsyncManager{
		redsync: redsync.New(pool),
		config:  config,
	}, nil
}

// Config returns the effective lock settings.
func (rm *RedsyncManager) Config() Config {
	return rm.config
}

// Acquire takes the exclusive lock for key, waiting at most the configured
// Wait (or less if ctx expires first). A lock that cannot be obtained in time
// yields an ErrTypeLockTimeout error.
func (rm *RedsyncManager) Acquire(ctx context.Context, key string) (*Lock, error) {
	if key == "" {
		return nil, errors.InvalidArgumentError("lock key is required")
	}

	waitCtx, cancel := context.WithTimeout(ctx, rm.config.Wait)
	defer cancel()

	tries := int(rm.config.Wait/rm.config.RetryDelay) + 1
	mutex := rm.redsync.NewMutex(keyPrefix+key,
		redsync.WithExpiry(rm.config.Expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(rm.config.RetryDelay),
	)

	if err := mutex.LockContext(waitCtx); err != nil {
		var taken *redsync.ErrTaken
		if stderrors.Is(err, redsync.ErrFailed) || stderrors.As(err, &taken) ||
			stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
			return nil, errors.LockTimeoutError(key, err)
		}
		return nil, errors.StoreUnavailableError("failed to acquire distributed lock", err)
	}

	return &Lock{
		mutex:    mutex,
		key:      key,
		acquired: time.Now(),
	}, nil
}

// Key returns the rate limit key this lock protects.
func (l *Lock) Key() string {
	return l.key
}

// Held reports how long the lock has been held.
func (l *Lock) Held() time.Duration {
	return time.Since(l.acquired)
}

// Release unlocks the mutex. It uses its own short deadline so a cancelled
// request still frees the key.
func (l *Lock) Release(ctx context.Context) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	ok, err := l.mutex.UnlockContext(releaseCtx)
	if err != nil {
		return errors.StoreUnavailableError("failed to release distributed lock", err).WithContext("key", l.key)
	}
	if !ok {
		return errors.InternalError("distributed lock already expired", nil).WithContext("key", l.key)
	}
	return nil
}
