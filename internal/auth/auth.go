// Package auth resolves the caller's user id for per-user rate limiting.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"window-limiter/internal/common/errors"
)

const (
	// DefaultCookieName carries the access token when no Authorization header is sent.
	DefaultCookieName = "access_token"
	// DefaultUserHeader is read by HeaderResolver.
	DefaultUserHeader = "X-User-Id"
	// DefaultTokenCacheTTL bounds how long a verified token is trusted without re-verification.
	DefaultTokenCacheTTL = time.Minute
)

// Resolver returns the authenticated user id of a request.
type Resolver interface {
	Resolve(r *http.Request) (string, bool)
}

// Claims are the access token claims; the user id is the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTConfig configures token verification. Exactly one of Secret (HS256) or
// PublicKeyPEM (RS256) must be set.
type JWTConfig struct {
	Secret       string
	PublicKeyPEM []byte
	Issuer       string
	CookieName   string
	Leeway       time.Duration
	// CacheTTL caps how long verified claims are reused, never past the
	// token's expiry. Zero means DefaultTokenCacheTTL; negative disables caching.
	CacheTTL time.Duration
}

// JWTResolver reads a bearer token or cookie and trusts its sub claim.
type JWTResolver struct {
	key        interface{}
	parser     *jwt.Parser
	cookieName string
	cache      *gocache.Cache
	cacheTTL   time.Duration
}

// NewJWTResolver builds a resolver from config.
func NewJWTResolver(config JWTConfig) (*JWTResolver, error) {
	var (
		key    interface{}
		method string
	)

	switch {
	case config.Secret != "" && len(config.PublicKeyPEM) > 0:
		return nil, errors.ConfigError("configure either a JWT secret or a public key, not both")
	case config.Secret != "":
		if len(config.Secret) < 32 {
			return nil, errors.ConfigError("JWT secret must be at least 32 characters long")
		}
		key = []byte(config.Secret)
		method = jwt.SigningMethodHS256.Alg()
	case len(config.PublicKeyPEM) > 0:
		publicKey, err := jwt.ParseRSAPublicKeyFromPEM(config.PublicKeyPEM)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("invalid JWT public key: %v", err))
		}
		key = publicKey
		method = jwt.SigningMethodRS256.Alg()
	default:
		return nil, errors.ConfigError("JWT secret or public key is required")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		options = append(options, jwt.WithIssuer(config.Issuer))
	}
	if config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(config.Leeway))
	}

	cookieName := config.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	resolver := &JWTResolver{
		key:        key,
		parser:     jwt.NewParser(options...),
		cookieName: cookieName,
		cacheTTL:   config.CacheTTL,
	}
	if resolver.cacheTTL == 0 {
		resolver.cacheTTL = DefaultTokenCacheTTL
	}
	if resolver.cacheTTL > 0 {
		resolver.cache = gocache.New(resolver.cacheTTL, 2*resolver.cacheTTL)
	}
	return resolver, nil
}

// ValidateToken verifies a token and returns its claims. Verified claims are
// cached until the earlier of the cache TTL and the token's expiry.
func (j *JWTResolver) ValidateToken(tokenString string) (*Claims, error) {
	if j.cache != nil {
		if cached, found := j.cache.Get(tokenString); found {
			return cached.(*Claims), nil
		}
	}

	claims := &Claims{}
	token, err := j.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return j.key, nil
	})
	if err != nil {
		return nil, errors.UnauthenticatedError(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid {
		return nil, errors.UnauthenticatedError("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.UnauthenticatedError("token has no subject")
	}

	if j.cache != nil {
		ttl := j.cacheTTL
		if untilExpiry := time.Until(claims.ExpiresAt.Time); untilExpiry < ttl {
			ttl = untilExpiry
		}
		if ttl > 0 {
			j.cache.Set(tokenString, claims, ttl)
		}
	}
	return claims, nil
}

// Resolve implements Resolver.
func (j *JWTResolver) Resolve(r *http.Request) (string, bool) {
	tokenString := TokenFromRequest(r, j.cookieName)
	if tokenString == "" {
		return "", false
	}

	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}

// TokenFromRequest returns the bearer token, falling back to the named cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if cookieName == "" {
		return ""
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// HeaderResolver trusts a header set by an upstream gateway.
type HeaderResolver struct {
	Header string
}

// Resolve implements Resolver.
func (h HeaderResolver) Resolve(r *http.Request) (string, bool) {
	name := h.Header
	if name == "" {
		name = DefaultUserHeader
	}
	id := strings.TrimSpace(r.Header.Get(name))
	return id, id != ""
}

type userKey struct{}

// WithUser stores an already authenticated user id in ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the id stored by WithUser.
func UserFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// ContextResolver reads the id stored by WithUser.
type ContextResolver struct{}

// Resolve implements Resolver.
func (ContextResolver) Resolve(r *http.Request) (string, bool) {
	return UserFromContext(r.Context())
}

// Chain tries each resolver in order and returns the first id found.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(r *http.Request) (string, bool) {
	for _, resolver := range c {
		if resolver == nil {
			continue
		}
		if id, ok := resolver.Resolve(r); ok {
			return id, true
		}
	}
	return "", false
}
