package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.Issue("alice", []string{ScopeRunsApprove})
	require.NoError(t, err)

	p, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, MethodJWT, p.Method)
	assert.True(t, p.HasScope(ScopeRunsApprove))
	assert.False(t, p.HasScope(ScopeRunsWrite))
}

func TestJWTRejections(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)
	foreign, err := other.Issue("mallory", nil)
	require.NoError(t, err)

	expired := NewJWTManager("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue("alice", nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong key", foreign},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestKeyRing(t *testing.T) {
	plain, key, err := GenerateAPIKey("ci", "ci-bot", nil)
	require.NoError(t, err)
	assert.NotContains(t, key.Hash, plain[3:])

	ring := NewKeyRing(key)
	p, err := ring.Validate(plain)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", p.Subject)
	assert.Equal(t, AllScopes, p.Scopes)

	_, err = ring.Validate(plain + "x")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = ring.Validate("sk_short")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = ring.Validate("pk_" + plain[3:])
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestHTTPMiddleware(t *testing.T) {
	jwtm := NewJWTManager("secret", time.Hour)
	token, err := jwtm.Issue("alice", AllScopes)
	require.NoError(t, err)
	plain, key, err := GenerateAPIKey("ci", "ci-bot", []string{ScopeRunsRead})
	require.NoError(t, err)

	a := NewAuthenticator(Config{Enabled: true, APIKeys: []APIKey{key}}, jwtm, zaptest.NewLogger(t))
	var seen *Principal
	h := a.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		target   string
		header   map[string]string
		wantCode int
		wantSub  string
	}{
		{"bearer", "/runs", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, "alice"},
		{"api key header", "/runs", map[string]string{"X-API-Key": plain}, http.StatusOK, "ci-bot"},
		{"api key query on stream", "/runs/r1/stream?api_key=" + plain, nil, http.StatusOK, "ci-bot"},
		{"api key query elsewhere", "/runs/r1?api_key=" + plain, nil, http.StatusUnauthorized, ""},
		{"bad bearer", "/runs", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"basic scheme", "/runs", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, ""},
		{"missing", "/runs", nil, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantSub != "" {
				require.NotNil(t, seen)
				assert.Equal(t, tt.wantSub, seen.Subject)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestDisabledAuthUsesDevPrincipal(t *testing.T) {
	a := NewAuthenticator(Config{DevSubject: "local"}, nil, zaptest.NewLogger(t))
	p, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, "local", p.Subject)

	ctx := WithPrincipal(t.Context(), p)
	assert.NoError(t, RequireScopes(ctx, ScopeRunsApprove))
	restricted := WithPrincipal(t.Context(), &Principal{Subject: "x", Scopes: []string{ScopeRunsRead}})
	assert.ErrorIs(t, RequireScopes(restricted, ScopeRunsWrite), ErrMissingScope)
}
