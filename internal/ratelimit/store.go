package ratelimit

import (
	"context"
	stderrors "errors"

	"window-limiter/internal/circuitbreaker"
	"window-limiter/internal/common/errors"
	"window-limiter/internal/common/logging"
	"window-limiter/internal/locks"
	"window-limiter/internal/redis"
)

// Store runs one sliding-window batch: trim, count per window, insert, expire.
// The returned counts exclude the inserted event and follow batch.Windows order.
// *redis.Client satisfies Store through MULTI/EXEC.
type Store interface {
	SlidingWindow(ctx context.Context, batch redis.WindowBatch) ([]int64, error)
}

// PipelineStore is the non-transactional batch a LockedStore runs under its lock.
type PipelineStore interface {
	SlidingWindowPipelined(ctx context.Context, batch redis.WindowBatch) ([]int64, error)
}

// Locker hands out exclusive per-key locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (*locks.Lock, error)
}

// Executor runs a call under a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// LockedStore serialises batches per key with a distributed lock, for
// deployments where MULTI/EXEC is not available.
type LockedStore struct {
	store  PipelineStore
	locker Locker
	logger logging.Logger
}

// NewLockedStore creates a LockedStore.
func NewLockedStore(store PipelineStore, locker Locker, logger logging.Logger) *LockedStore {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LockedStore{store: store, locker: locker, logger: logger}
}

// SlidingWindow implements Store.
func (s *LockedStore) SlidingWindow(ctx context.Context, batch redis.WindowBatch) (counts []int64, err error) {
	lock, err := s.locker.Acquire(ctx, batch.Key)
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			// counts are still valid; the lock may have expired mid-batch
			s.logger.Warn("Failed to release rate limit lock",
				logging.String("key", batch.Key),
				logging.Duration("held", lock.Held()),
				logging.Err(releaseErr),
			)
		}
	}()

	return s.store.SlidingWindowPipelined(ctx, batch)
}

// BreakerStore fails fast with StoreUnavailable while the breaker is open.
type BreakerStore struct {
	next    Store
	breaker Executor
}

// NewBreakerStore wraps next in breaker.
func NewBreakerStore(next Store, breaker Executor) *BreakerStore {
	return &BreakerStore{next: next, breaker: breaker}
}

// SlidingWindow implements Store.
func (s *BreakerStore) SlidingWindow(ctx context.Context, batch redis.WindowBatch) ([]int64, error) {
	var counts []int64
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		counts, err = s.next.SlidingWindow(ctx, batch)
		return err
	})
	if stderrors.Is(err, circuitbreaker.ErrOpen) {
		return nil, errors.StoreUnavailableError("rate limit store circuit is open", err)
	}
	return counts, err
}
