package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"window-limiter/internal/common/logging"
)

type entry struct {
	level     string
	msg       string
	fields    map[string]interface{}
	requestID string
}

type recordingLogger struct {
	mu        sync.Mutex
	entries   *[]entry
	requestID string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{entries: &[]entry{}}
}

func (l *recordingLogger) record(level, msg string, fields []logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	*l.entries = append(*l.entries, entry{level: level, msg: msg, fields: m, requestID: l.requestID})
}

func (l *recordingLogger) Debug(msg string, fields ...logging.Field) { l.record("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...logging.Field)  { l.record("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...logging.Field)  { l.record("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, _ error, fields ...logging.Field) {
	l.record("error", msg, fields)
}
func (l *recordingLogger) WithFields(...logging.Field) logging.Logger { return l }
func (l *recordingLogger) WithContext(ctx context.Context) logging.Logger {
	id, _ := logging.RequestIDFromContext(ctx)
	return &recordingLogger{entries: l.entries, requestID: id}
}

func (l *recordingLogger) last(t *testing.T) entry {
	t.Helper()
	require.NotEmpty(t, *l.entries)
	return (*l.entries)[len(*l.entries)-1]
}

func TestLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusTooManyRequests, "warn"},
		{http.StatusUnauthorized, "warn"},
		{http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger := newRecordingLogger()
			handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodPost, "/users/login?next=/home", nil)
			req.Header.Set("User-Agent", "test-agent")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			got := logger.last(t)
			assert.Equal(t, tt.level, got.level)
			assert.Equal(t, "HTTP request completed", got.msg)
			assert.Equal(t, tt.status, got.fields["status"])
			assert.Equal(t, "/users/login", got.fields["path"])
			assert.Equal(t, "next=/home", got.fields["query"])
			assert.Equal(t, "test-agent", got.fields["user_agent"])
			assert.Equal(t, "0", got.fields["ratelimit_remaining"])
		})
	}
}

func TestLogging_ImplicitOK(t *testing.T) {
	logger := newRecordingLogger()
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
		w.WriteHeader(http.StatusInternalServerError)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	got := logger.last(t)
	assert.Equal(t, "info", got.level)
	assert.Equal(t, http.StatusOK, got.fields["status"])
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestIDFromContext(r.Context())
	}))

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("keeps incoming id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "edge-1234")
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "edge-1234", seen)
		assert.Equal(t, "edge-1234", rec.Header().Get(RequestIDHeader))
	})

	for name, bad := range map[string]string{
		"whitespace": "has space",
		"too long":   strings.Repeat("a", maxRequestIDLength+1),
	} {
		t.Run("replaces "+name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, bad)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.NotEqual(t, bad, seen)
			_, err := uuid.Parse(seen)
			assert.NoError(t, err)
		})
	}
}

func TestRequestIDReachesLogger(t *testing.T) {
	logger := newRecordingLogger()
	handler := RequestID(Logging(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-me")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "trace-me", logger.last(t).requestID)
}
