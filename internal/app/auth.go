package app

import (
	"fmt"
	"os"

	"window-limiter/internal/auth"
	"window-limiter/internal/common/errors"
	"window-limiter/internal/common/logging"
)

// initializeIdentity builds the resolver chain used by per-user routes:
// request context first, then a verified token, then the gateway header
// when it is trusted.
func (app *App) initializeIdentity() (auth.Chain, error) {
	chain := auth.Chain{auth.ContextResolver{}}

	jwtConfig := auth.JWTConfig{Secret: app.Config.JWTSecret}
	if path := app.Config.JWTPublicKeyFile; path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("failed to read JWT public key %s: %v", path, err))
		}
		jwtConfig.PublicKeyPEM = pem
	}

	if jwtConfig.Secret != "" || len(jwtConfig.PublicKeyPEM) > 0 {
		resolver, err := auth.NewJWTResolver(jwtConfig)
		if err != nil {
			return nil, err
		}
		chain = append(chain, resolver)
		app.Logger.Info("Identity: JWT verification enabled")
	}

	if app.Config.TrustUserHeader {
		chain = append(chain, auth.HeaderResolver{Header: auth.DefaultUserHeader})
		app.Logger.Warn("Identity: trusting user header from upstream",
			logging.String("header", auth.DefaultUserHeader))
	}

	return chain, nil
}
