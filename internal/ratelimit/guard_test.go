package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"window-limiter/internal/common/errors"
	"window-limiter/internal/common/logging"
)

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Evaluate(ctx context.Context, identifier, endpoint string, windows Policy) (*Decision, error) {
	args := m.Called(ctx, identifier, endpoint, windows)
	decision, _ := args.Get(0).(*Decision)
	return decision, args.Error(1)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(r *http.Request) (string, bool) {
	args := m.Called(r)
	return args.String(0), args.Bool(1)
}

func decisionFor(policy Policy, limited bool, counts ...int64) *Decision {
	d := &Decision{Key: "k", Limited: limited, At: time.Unix(1_700_000_000, 0)}
	for i, w := range policy {
		remaining := w.MaxRequests - int(counts[i]) - 1
		if remaining < 0 {
			remaining = 0
		}
		d.Windows = append(d.Windows, WindowResult{Spec: w, Count: counts[i], Remaining: remaining})
	}
	return d
}

// handlerSpy records whether the wrapped handler ran.
type handlerSpy struct {
	called int
}

func (h *handlerSpy) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.called++
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func serve(t *testing.T, guard *Guard, strategy Strategy, policy string, req *http.Request) (*httptest.ResponseRecorder, *handlerSpy) {
	t.Helper()
	mw, err := guard.Limit(strategy, policy)
	require.NoError(t, err)

	spy := &handlerSpy{}
	rec := httptest.NewRecorder()
	mw(spy).ServeHTTP(rec, req)
	return rec, spy
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestGuard_AllowsRequest(t *testing.T) {
	policy := MustParsePolicy("5/m;20/h")
	evaluator := &mockEvaluator{}
	evaluator.On("Evaluate", mock.Anything, "203.0.113.7", "/users/login", policy).
		Return(decisionFor(policy, false, 1, 10), nil).Once()

	guard := NewGuard(evaluator, WithGuardLogger(logging.NewNopLogger()))
	req := httptest.NewRequest(http.MethodPost, "/users/login?next=/home", nil)
	req.RemoteAddr = "203.0.113.7:51234"

	rec, spy := serve(t, guard, ByIP, "5/m;20/h", req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, spy.called)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(1_700_000_060, 10), rec.Header().Get("X-RateLimit-Reset"))
	evaluator.AssertExpectations(t)
}

func TestGuard_RejectsLimitedRequest(t *testing.T) {
	policy := MustParsePolicy("3/m")
	evaluator := &mockEvaluator{}
	evaluator.On("Evaluate", mock.Anything, mock.Anything, "/users/register", policy).
		Return(decisionFor(policy, true, 3), nil)

	guard := NewGuard(evaluator, WithGuardLogger(logging.NewNopLogger()))
	req := httptest.NewRequest(http.MethodPost, "/users/register", nil)

	rec, spy := serve(t, guard, ByIP, "3/m", req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 0, spy.called)
	assert.Equal(t, DetailRateLimited, detailOf(t, rec))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestGuard_StoreFailuresAreServiceUnavailable(t *testing.T) {
	for _, storeErr := range []error{
		errors.StoreUnavailableError("redis down", nil),
		errors.LockTimeoutError("k", nil),
	} {
		t.Run(string(errors.GetType(storeErr)), func(t *testing.T) {
			evaluator := &mockEvaluator{}
			evaluator.On("Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, storeErr)

			guard := NewGuard(evaluator, WithGuardLogger(logging.NewNopLogger()))
			rec, spy := serve(t, guard, ByIP, "1/s", httptest.NewRequest(http.MethodGet, "/ping", nil))

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, 0, spy.called)
			assert.Equal(t, DetailUnavailable, detailOf(t, rec))
			assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		})
	}
}

func TestGuard_UnexpectedErrorIsInternal(t *testing.T) {
	evaluator := &mockEvaluator{}
	evaluator.On("Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.InvalidArgumentError("identifier must not be empty"))

	guard := NewGuard(evaluator, WithGuardLogger(logging.NewNopLogger()))
	rec, spy := serve(t, guard, ByIP, "1/s", httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, spy.called)
	assert.Equal(t, DetailInternal, detailOf(t, rec))
}

func TestGuard_ByUser(t *testing.T) {
	policy := MustParsePolicy("60/m")

	t.Run("resolved identity", func(t *testing.T) {
		resolver := &mockResolver{}
		resolver.On("Resolve", mock.Anything).Return("42", true)
		evaluator := &mockEvaluator{}
		evaluator.On("Evaluate", mock.Anything, "42", "/users/me", policy).Return(decisionFor(policy, false, 0), nil)

		guard := NewGuard(evaluator, WithIdentityResolver(resolver), WithGuardLogger(logging.NewNopLogger()))
		rec, spy := serve(t, guard, ByUser, "60/m", httptest.NewRequest(http.MethodGet, "/users/me", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, spy.called)
		evaluator.AssertExpectations(t)
	})

	t.Run("no identity", func(t *testing.T) {
		resolver := &mockResolver{}
		resolver.On("Resolve", mock.Anything).Return("", false)
		evaluator := &mockEvaluator{}

		guard := NewGuard(evaluator, WithIdentityResolver(resolver), WithGuardLogger(logging.NewNopLogger()))
		rec, spy := serve(t, guard, ByUser, "60/m", httptest.NewRequest(http.MethodGet, "/users/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 0, spy.called)
		assert.Equal(t, DetailUnauthenticated, detailOf(t, rec))
		evaluator.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no resolver configured", func(t *testing.T) {
		evaluator := &mockEvaluator{}
		guard := NewGuard(evaluator, WithGuardLogger(logging.NewNopLogger()))
		rec, _ := serve(t, guard, ByUser, "60/m", httptest.NewRequest(http.MethodGet, "/users/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGuard_Disabled(t *testing.T) {
	evaluator := &mockEvaluator{}
	guard := NewGuard(evaluator, WithEnabled(false))
	assert.False(t, guard.Enabled())

	rec, spy := serve(t, guard, ByUser, "1/s", httptest.NewRequest(http.MethodGet, "/users/me", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, spy.called)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	evaluator.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGuard_LimitRejectsBadInput(t *testing.T) {
	guard := NewGuard(&mockEvaluator{})

	_, err := guard.Limit(ByIP, "5/w")
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidPolicy))

	_, err = guard.Limit(Strategy(7), "5/m")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestGuard_CheckWithRealLimiter(t *testing.T) {
	limiter, _, _ := setupLimiter(t)
	guard := NewGuard(limiter, WithGuardLogger(logging.NewNopLogger()))
	policy := MustParsePolicy("2/m")

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	for i := 0; i < 2; i++ {
		decision, err := guard.Check(req, ByIP, policy)
		require.NoError(t, err)
		assert.Equal(t, "rate_limiter:/ping:198.51.100.1", decision.Key)
	}

	decision, err := guard.Check(req, ByIP, policy)
	require.NotNil(t, decision)
	assert.True(t, decision.Limited)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded single", "198.51.100.1", "10.0.0.1:1234", "198.51.100.1"},
		{"forwarded chain takes first", " 198.51.100.1 , 10.0.0.2, 10.0.0.3", "10.0.0.1:1234", "198.51.100.1"},
		{"empty first entry falls back to peer", " , 10.0.0.2", "10.0.0.1:1234", "10.0.0.1"},
		{"peer with port", "", "10.0.0.1:1234", "10.0.0.1"},
		{"ipv6 peer", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"peer without port", "", "10.0.0.1", "10.0.0.1"},
		{"nothing at all", "", "", UnknownIdentifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestStrategy(t *testing.T) {
	s, err := ParseStrategy("IP")
	require.NoError(t, err)
	assert.Equal(t, ByIP, s)

	s, err = ParseStrategy(" user ")
	require.NoError(t, err)
	assert.Equal(t, ByUser, s)

	_, err = ParseStrategy("token")
	assert.Error(t, err)

	var decoded Strategy
	require.NoError(t, decoded.UnmarshalText([]byte("user")))
	assert.Equal(t, ByUser, decoded)

	text, err := ByIP.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ip", string(text))
	assert.Equal(t, "unknown", Strategy(9).String())
}
