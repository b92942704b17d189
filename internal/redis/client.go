package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client owns the connection pool to the shared counter store.
type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address     string        `json:"address"`
	Password    string        `json:"password"`
	DB          int           `json:"db"`
	PoolSize    int           `json:"pool_size"`
	DialTimeout time.Duration `json:"dial_timeout"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
		// Retries belong to the caller; one evaluation is one round trip.
		MaxRetries: -1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Address, err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// GoRedis exposes the underlying client for libraries that build on go-redis (redsync).
func (c *Client) GoRedis() *redis.Client {
	return c.rdb
}

// AddHook installs a go-redis hook on the underlying client.
func (c *Client) AddHook(hook redis.Hook) {
	c.rdb.AddHook(hook)
}

// WindowBatch is one sliding-window evaluation against a single sorted set.
// Scores are unix milliseconds.
type WindowBatch struct {
	Key     string
	Member  string
	NowMs   int64
	Windows []time.Duration
	TTL     time.Duration
}

func (b WindowBatch) validate() error {
	if b.Key == "" {
		return fmt.Errorf("window batch key is required")
	}
	if len(b.Windows) == 0 {
		return fmt.Errorf("window batch needs at least one window")
	}
	if b.TTL <= 0 {
		return fmt.Errorf("window batch ttl must be positive")
	}
	return nil
}

// SlidingWindow runs trim, one count per window, insert and expire inside
// MULTI/EXEC. Counts are taken before the insert, so they cover prior events only.
func (c *Client) SlidingWindow(ctx context.Context, batch WindowBatch) ([]int64, error) {
	if err := batch.validate(); err != nil {
		return nil, err
	}
	return c.runWindowBatch(ctx, c.rdb.TxPipeline(), batch)
}

// SlidingWindowPipelined sends the same commands as SlidingWindow in one
// non-transactional pipeline. Callers must hold an exclusive lock on the key.
func (c *Client) SlidingWindowPipelined(ctx context.Context, batch WindowBatch) ([]int64, error) {
	if err := batch.validate(); err != nil {
		return nil, err
	}
	return c.runWindowBatch(ctx, c.rdb.Pipeline(), batch)
}

func (c *Client) runWindowBatch(ctx context.Context, pipe redis.Pipeliner, batch WindowBatch) ([]int64, error) {
	var longest time.Duration
	for _, w := range batch.Windows {
		if w > longest {
			longest = w
		}
	}

	// Strictly below the cutoff: an event exactly at the edge of the longest window stays.
	cutoff := batch.NowMs - longest.Milliseconds()
	pipe.ZRemRangeByScore(ctx, batch.Key, "-inf", "("+strconv.FormatInt(cutoff, 10))

	counts := make([]*redis.IntCmd, len(batch.Windows))
	for i, w := range batch.Windows {
		start := batch.NowMs - w.Milliseconds()
		counts[i] = pipe.ZCount(ctx, batch.Key, strconv.FormatInt(start, 10), "+inf")
	}

	pipe.ZAdd(ctx, batch.Key, &redis.Z{Score: float64(batch.NowMs), Member: batch.Member})
	pipe.Expire(ctx, batch.Key, batch.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute sliding window batch for %s: %w", batch.Key, err)
	}

	result := make([]int64, len(counts))
	for i, cmd := range counts {
		result[i] = cmd.Val()
	}
	return result, nil
}
