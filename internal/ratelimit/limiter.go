package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"window-limiter/internal/common/errors"
	"window-limiter/internal/common/logging"
	"window-limiter/internal/redis"
)

// DefaultKeyPrefix namespaces every rate limit key in the shared store.
const DefaultKeyPrefix = "rate_limiter"

// maxMemberSuffix bounds the random suffix that keeps same-millisecond events distinct.
const maxMemberSuffix = 100_000

// WindowResult is the outcome of one window of a policy.
type WindowResult struct {
	Spec WindowSpec
	// Count is the number of earlier events inside the window.
	Count int64
	// Remaining is how many more requests the window admits after this one.
	Remaining int
}

// Limited reports whether this window alone rejects the request.
func (r WindowResult) Limited() bool {
	return r.Count >= int64(r.Spec.MaxRequests)
}

// Decision is the full result of one evaluation.
type Decision struct {
	Key     string
	Limited bool
	Windows []WindowResult
	At      time.Time
}

// Tightest returns the window with the fewest remaining requests; ties go to
// the earlier window in the policy.
func (d *Decision) Tightest() WindowResult {
	best := d.Windows[0]
	for _, w := range d.Windows[1:] {
		if w.Remaining < best.Remaining {
			best = w
		}
	}
	return best
}

// RetryAfter is a hint for clients: the longest window that rejected the
// request, or zero when the request was admitted.
func (d *Decision) RetryAfter() time.Duration {
	var longest time.Duration
	for _, w := range d.Windows {
		if w.Limited() && w.Spec.Window > longest {
			longest = w.Spec.Window
		}
	}
	return longest
}

// Limiter is the sliding-window engine. It keeps no mutable state of its
// own; all coordination happens in the Store.
type Limiter struct {
	store  Store
	prefix string
	now    func() time.Time
	suffix func() int
	logger logging.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for decisions and store failures.
func WithLogger(logger logging.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLimiter creates a Limiter on top of store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
		suffix: func() int { return rand.IntN(maxMemberSuffix + 1) },
		logger: logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the store key for an endpoint and identifier.
func (l *Limiter) Key(endpoint, identifier string) string {
	return l.prefix + ":" + endpoint + ":" + identifier
}

// IsLimited records the current request for (identifier, endpoint) and
// reports whether any window's quota was already used up.
func (l *Limiter) IsLimited(ctx context.Context, identifier, endpoint string, windows Policy) (bool, error) {
	decision, err := l.Evaluate(ctx, identifier, endpoint, windows)
	if err != nil {
		return false, err
	}
	return decision.Limited, nil
}

// Evaluate is IsLimited with per-window detail. The event is recorded even
// when the request is limited. Store failures are returned as
// ErrTypeStoreUnavailable or ErrTypeLockTimeout; the limiter never guesses a verdict.
func (l *Limiter) Evaluate(ctx context.Context, identifier, endpoint string, windows Policy) (*Decision, error) {
	if len(windows) == 0 {
		return nil, errors.InvalidArgumentError("at least one window is required")
	}
	if identifier == "" {
		return nil, errors.InvalidArgumentError("identifier must not be empty")
	}
	for i, w := range windows {
		if !w.Valid() {
			return nil, errors.InvalidArgumentError(fmt.Sprintf("window %d is not a positive whole-second quota", i)).
				WithContext("window", w.String())
		}
	}

	now := l.now()
	nowMs := now.UnixMilli()
	key := l.Key(endpoint, identifier)

	counts, err := l.store.SlidingWindow(ctx, redis.WindowBatch{
		Key:     key,
		Member:  strconv.FormatInt(nowMs, 10) + "--" + strconv.Itoa(l.suffix()),
		NowMs:   nowMs,
		Windows: windows.Durations(),
		TTL:     windows.MaxWindow(),
	})
	if err != nil {
		if !errors.IsStoreFailure(err) {
			err = errors.StoreUnavailableError("failed to evaluate rate limit", err).WithContext("key", key)
		}
		l.logger.WithContext(ctx).Error("Rate limit evaluation failed", err, logging.String("key", key))
		return nil, err
	}
	if len(counts) != len(windows) {
		return nil, errors.InternalError(fmt.Sprintf("store returned %d counts for %d windows", len(counts), len(windows)), nil)
	}

	decision := &Decision{
		Key:     key,
		Windows: make([]WindowResult, len(windows)),
		At:      now,
	}
	for i, w := range windows {
		result := WindowResult{Spec: w, Count: counts[i]}
		result.Remaining = w.MaxRequests - int(counts[i]) - 1
		if result.Remaining < 0 {
			result.Remaining = 0
		}
		if result.Limited() {
			decision.Limited = true
		}
		decision.Windows[i] = result
	}

	if decision.Limited {
		l.logger.WithContext(ctx).Warn("Rate limit exceeded",
			logging.String("key", key),
			logging.String("policy", windows.String()),
		)
	} else {
		l.logger.WithContext(ctx).Debug("Rate limit checked",
			logging.String("key", key),
			logging.Int("remaining", decision.Tightest().Remaining),
		)
	}

	return decision, nil
}
