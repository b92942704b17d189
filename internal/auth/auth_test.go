package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"window-limiter/internal/auth"
	"window-limiter/internal/common/errors"
)

const testSecret = "test-secret-key-that-is-long-enough"

func signHS256(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "window-limiter",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func requestWithBearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestNewJWTResolver(t *testing.T) {
	tests := []struct {
		name    string
		config  auth.JWTConfig
		wantErr string
	}{
		{name: "secret", config: auth.JWTConfig{Secret: testSecret}},
		{name: "nothing configured", config: auth.JWTConfig{}, wantErr: "required"},
		{name: "short secret", config: auth.JWTConfig{Secret: "short"}, wantErr: "at least 32"},
		{name: "both keys", config: auth.JWTConfig{Secret: testSecret, PublicKeyPEM: []byte("x")}, wantErr: "not both"},
		{name: "bad pem", config: auth.JWTConfig{PublicKeyPEM: []byte("not a key")}, wantErr: "invalid JWT public key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, err := auth.NewJWTResolver(tt.config)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, resolver)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJWTResolver_ValidateToken(t *testing.T) {
	resolver, err := auth.NewJWTResolver(auth.JWTConfig{Secret: testSecret, Issuer: "window-limiter"})
	require.NoError(t, err)

	noSubject := signHS256(t, testSecret, "", time.Hour)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	otherIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		subject string
	}{
		{name: "valid token", token: signHS256(t, testSecret, "user-1", time.Hour), subject: "user-1"},
		{name: "wrong secret", token: signHS256(t, "different-secret-key-that-is-wrong", "user-1", time.Hour)},
		{name: "expired", token: signHS256(t, testSecret, "user-1", -time.Hour)},
		{name: "missing subject", token: noSubject},
		{name: "missing expiry", token: noExpiry},
		{name: "wrong issuer", token: otherIssuer},
		{name: "alg none", token: unsigned},
		{name: "garbage", token: "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := resolver.ValidateToken(tt.token)
			if tt.subject != "" {
				require.NoError(t, err)
				assert.Equal(t, tt.subject, claims.Subject)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeUnauthenticated), "got %v", err)
		})
	}
}

func TestJWTResolver_RS256(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	resolver, err := auth.NewJWTResolver(auth.JWTConfig{PublicKeyPEM: publicPEM})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-42", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(privateKey)
	require.NoError(t, err)

	id, ok := resolver.Resolve(requestWithBearer(token))
	assert.True(t, ok)
	assert.Equal(t, "user-42", id)

	// An HS256 token signed with the public key bytes must not verify.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(publicPEM)
	require.NoError(t, err)
	_, ok = resolver.Resolve(requestWithBearer(forged))
	assert.False(t, ok)
}

func TestJWTResolver_Resolve(t *testing.T) {
	resolver, err := auth.NewJWTResolver(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	token := signHS256(t, testSecret, "user-7", time.Hour)

	t.Run("bearer header", func(t *testing.T) {
		id, ok := resolver.Resolve(requestWithBearer(token))
		assert.True(t, ok)
		assert.Equal(t, "user-7", id)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: token})
		id, ok := resolver.Resolve(req)
		assert.True(t, ok)
		assert.Equal(t, "user-7", id)
	})

	t.Run("basic auth is not a token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.SetBasicAuth("user", "pass")
		req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: token})
		_, ok := resolver.Resolve(req)
		assert.False(t, ok)
	})

	t.Run("anonymous", func(t *testing.T) {
		_, ok := resolver.Resolve(httptest.NewRequest(http.MethodGet, "/users/me", nil))
		assert.False(t, ok)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, ok := resolver.Resolve(requestWithBearer("nope"))
		assert.False(t, ok)
	})
}

func TestHeaderResolver(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := auth.HeaderResolver{}.Resolve(req)
	assert.False(t, ok)

	req.Header.Set(auth.DefaultUserHeader, " user-9 ")
	id, ok := auth.HeaderResolver{}.Resolve(req)
	assert.True(t, ok)
	assert.Equal(t, "user-9", id)

	req.Header.Set("X-Forwarded-User", "user-10")
	id, ok = auth.HeaderResolver{Header: "X-Forwarded-User"}.Resolve(req)
	assert.True(t, ok)
	assert.Equal(t, "user-10", id)
}

func TestContextResolverAndChain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := auth.ContextResolver{}.Resolve(req)
	assert.False(t, ok)

	_, ok = auth.UserFromContext(auth.WithUser(req.Context(), ""))
	assert.False(t, ok)

	withUser := req.WithContext(auth.WithUser(req.Context(), "ctx-user"))
	withUser.Header.Set(auth.DefaultUserHeader, "header-user")

	chain := auth.Chain{auth.ContextResolver{}, nil, auth.HeaderResolver{}}
	id, ok := chain.Resolve(withUser)
	assert.True(t, ok)
	assert.Equal(t, "ctx-user", id)

	headerOnly := httptest.NewRequest(http.MethodGet, "/", nil)
	headerOnly.Header.Set(auth.DefaultUserHeader, "header-user")
	id, ok = chain.Resolve(headerOnly)
	assert.True(t, ok)
	assert.Equal(t, "header-user", id)

	_, ok = auth.Chain{}.Resolve(headerOnly)
	assert.False(t, ok)
}

func TestJWTResolver_ClaimsCache(t *testing.T) {
	token := signHS256(t, testSecret, "user-1", time.Hour)

	cached, err := auth.NewJWTResolver(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	first, err := cached.ValidateToken(token)
	require.NoError(t, err)
	second, err := cached.ValidateToken(token)
	require.NoError(t, err)
	assert.Same(t, first, second)

	uncached, err := auth.NewJWTResolver(auth.JWTConfig{Secret: testSecret, CacheTTL: -1})
	require.NoError(t, err)
	first, err = uncached.ValidateToken(token)
	require.NoError(t, err)
	second, err = uncached.ValidateToken(token)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Subject, second.Subject)
}

func TestJWTResolver_CacheNeverOutlivesToken(t *testing.T) {
	resolver, err := auth.NewJWTResolver(auth.JWTConfig{Secret: testSecret, CacheTTL: time.Hour})
	require.NoError(t, err)

	claims := jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(1500 * time.Millisecond).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = resolver.ValidateToken(token)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := resolver.ValidateToken(token)
		return errors.IsType(err, errors.ErrTypeUnauthenticated)
	}, 4*time.Second, 100*time.Millisecond)
}
