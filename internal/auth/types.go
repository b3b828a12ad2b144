package auth

import (
	"context"
	"errors"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// PrincipalContextKey is the context key for the authenticated caller
	PrincipalContextKey ContextKey = "principal"
)

// Scopes for authorization
const (
	ScopeRunsRead    = "runs:read"
	ScopeRunsWrite   = "runs:write"
	ScopeRunsApprove = "runs:approve"
)

// AllScopes is granted to the development principal and to keys without explicit scopes.
var AllScopes = []string{ScopeRunsRead, ScopeRunsWrite, ScopeRunsApprove}

// Credential methods
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
	MethodNone   = "none"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrMissingScope       = errors.New("missing required scope")
)

// Principal is the authenticated caller of a request
type Principal struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
	Method  string   `json:"method"`
}

// HasScope reports whether the principal carries scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// GetPrincipal extracts the caller from ctx.
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok
}
