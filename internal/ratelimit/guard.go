package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"window-limiter/internal/common/errors"
	"window-limiter/internal/common/logging"
)

// Response details written by the guard.
const (
	DetailRateLimited     = "Too many requests. Please try again later."
	DetailUnauthenticated = "User not authenticated for USER rate-limiting strategy."
	DetailUnavailable     = "Rate limiter unavailable."
	DetailInternal        = "Internal server error."
)

// UnknownIdentifier is used for BY_IP when the request carries no address at all.
const UnknownIdentifier = "unknown"

// Strategy selects how a request is identified.
type Strategy int

const (
	// ByIP keys the quota on the client address.
	ByIP Strategy = iota
	// ByUser keys the quota on the authenticated user id.
	ByUser
)

func (s Strategy) String() string {
	switch s {
	case ByIP:
		return "ip"
	case ByUser:
		return "user"
	default:
		return "unknown"
	}
}

// ParseStrategy accepts "ip" or "user" in any case.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ip":
		return ByIP, nil
	case "user":
		return ByUser, nil
	default:
		return 0, errors.ValidationError(fmt.Sprintf("unknown rate limit strategy %q, expected ip or user", s))
	}
}

// UnmarshalText lets route files spell strategies as text.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IdentityResolver returns the authenticated user id for a request, if any.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, bool)
}

// Evaluator is the engine operation the guard depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, identifier, endpoint string, windows Policy) (*Decision, error)
}

// Guard applies window policies to HTTP handlers.
type Guard struct {
	evaluator Evaluator
	resolver  IdentityResolver
	logger    logging.Logger
	enabled   bool
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithIdentityResolver sets the resolver used by ByUser.
func WithIdentityResolver(resolver IdentityResolver) GuardOption {
	return func(g *Guard) { g.resolver = resolver }
}

// WithGuardLogger sets the guard's logger.
func WithGuardLogger(logger logging.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithEnabled turns limiting on or off. A disabled guard never calls the evaluator.
func WithEnabled(enabled bool) GuardOption {
	return func(g *Guard) { g.enabled = enabled }
}

// NewGuard creates an enabled Guard.
func NewGuard(evaluator Evaluator, opts ...GuardOption) *Guard {
	g := &Guard{
		evaluator: evaluator,
		logger:    logging.GetGlobalLogger(),
		enabled:   true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether the guard evaluates requests.
func (g *Guard) Enabled() bool {
	return g.enabled
}

// Limit parses policy once and returns middleware enforcing it.
func (g *Guard) Limit(strategy Strategy, policy string) (func(http.Handler) http.Handler, error) {
	windows, err := ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	if strategy != ByIP && strategy != ByUser {
		return nil, errors.ValidationError(fmt.Sprintf("unknown rate limit strategy %d", strategy))
	}
	return func(next http.Handler) http.Handler {
		return g.Wrap(strategy, windows, next)
	}, nil
}

// Wrap returns a handler that runs next only when the request is within every window.
func (g *Guard) Wrap(strategy Strategy, windows Policy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := g.Check(r, strategy, windows)
		if decision != nil {
			writeRateLimitHeaders(w, decision)
		}
		if err != nil {
			g.reject(w, r, err, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Check identifies the request and evaluates windows for it. A limited
// request returns its decision together with an ErrTypeRateLimit error.
func (g *Guard) Check(r *http.Request, strategy Strategy, windows Policy) (*Decision, error) {
	identifier, err := g.identify(r, strategy)
	if err != nil {
		return nil, err
	}

	endpoint := r.URL.Path
	decision, err := g.evaluator.Evaluate(r.Context(), identifier, endpoint, windows)
	if err != nil {
		return nil, err
	}
	if decision.Limited {
		return decision, errors.RateLimitError(endpoint).WithContext("key", decision.Key)
	}
	return decision, nil
}

func (g *Guard) identify(r *http.Request, strategy Strategy) (string, error) {
	switch strategy {
	case ByIP:
		return ClientIP(r), nil
	case ByUser:
		if g.resolver != nil {
			if id, ok := g.resolver.Resolve(r); ok && id != "" {
				return id, nil
			}
		}
		return "", errors.UnauthenticatedError(DetailUnauthenticated)
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown rate limit strategy %d", strategy))
	}
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, err error, decision *Decision) {
	status := errors.HTTPStatus(err)
	logger := g.logger.WithContext(r.Context()).WithFields(
		logging.String("path", r.URL.Path),
		logging.Int("status", status),
	)

	var detail string
	switch status {
	case http.StatusTooManyRequests:
		detail = DetailRateLimited
		if retry := decision.RetryAfter(); retry > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(retry.Seconds()), 10))
		}
	case http.StatusUnauthorized:
		detail = DetailUnauthenticated
		logger.Debug("Rate limit identity missing")
	case http.StatusServiceUnavailable:
		detail = DetailUnavailable
		logger.Error("Rate limiter unavailable, rejecting request", err)
	default:
		status = http.StatusInternalServerError
		detail = DetailInternal
		logger.Error("Rate limiter failed", err)
	}

	writeDetail(w, status, detail)
}

func writeRateLimitHeaders(w http.ResponseWriter, decision *Decision) {
	tightest := decision.Tightest()
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tightest.Spec.MaxRequests))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tightest.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.At.Add(tightest.Spec.Window).Unix(), 10))
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// ClientIP returns the first X-Forwarded-For entry, else the host part of
// the peer address, else UnknownIdentifier.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	return UnknownIdentifier
}
