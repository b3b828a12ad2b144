package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Config controls request authentication
type Config struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	JWTSecret  string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	APIKeys    []APIKey `mapstructure:"api_keys" yaml:"api_keys"`
	DevSubject string   `mapstructure:"dev_subject" yaml:"dev_subject"`
}

// Authenticator provides authentication middleware for the HTTP API
type Authenticator struct {
	jwt      *JWTManager
	keys     *KeyRing
	skipAuth bool
	dev      *Principal
	logger   *zap.Logger
}

// NewAuthenticator builds the middleware. With auth disabled every request runs
// as the development principal.
func NewAuthenticator(cfg Config, jwtManager *JWTManager, logger *zap.Logger) *Authenticator {
	subject := cfg.DevSubject
	if subject == "" {
		subject = "dev"
	}
	if cfg.Enabled && jwtManager == nil && len(cfg.APIKeys) == 0 {
		logger.Warn("Auth enabled without a JWT secret or API keys; every request will be rejected")
	}
	return &Authenticator{
		jwt:      jwtManager,
		keys:     NewKeyRing(cfg.APIKeys...),
		skipAuth: !cfg.Enabled,
		dev:      &Principal{Subject: subject, Scopes: AllScopes, Method: MethodNone},
		logger:   logger,
	}
}

// Authenticate resolves the caller of r.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if a.skipAuth {
		return a.dev, nil
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if a.jwt == nil {
			return nil, ErrInvalidToken
		}
		return a.jwt.Validate(token)
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return a.keys.Validate(apiKey)
	}

	// Browser EventSource and WebSocket clients cannot set headers.
	if strings.Contains(r.URL.Path, "/stream") {
		if qKey := r.URL.Query().Get("api_key"); qKey != "" {
			return a.keys.Validate(qKey)
		}
	}
	return nil, ErrMissingCredentials
}

// HTTPMiddleware rejects unauthenticated requests with 401.
func (a *Authenticator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r)
		if err != nil {
			a.logger.Debug("Rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintf(w, `{"error":%q}`, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireScopes checks if the caller has the required scopes
func RequireScopes(ctx context.Context, requiredScopes ...string) error {
	p, ok := GetPrincipal(ctx)
	if !ok {
		return ErrMissingCredentials
	}
	for _, required := range requiredScopes {
		if !p.HasScope(required) {
			return fmt.Errorf("%w: %s", ErrMissingScope, required)
		}
	}
	return nil
}
