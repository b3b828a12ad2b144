package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("test", cfg, zaptest.NewLogger(t))
	cb.now = clock.Now
	return cb, clock
}

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{MaxRequests: 1, Timeout: time.Second, FailureThreshold: 3, SuccessThreshold: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{MaxRequests: 2, Timeout: time.Second, FailureThreshold: 1, SuccessThreshold: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{MaxRequests: 1, Timeout: time.Second, FailureThreshold: 1, SuccessThreshold: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: time.Second})

	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), context.Canceled)
	assert.Equal(t, uint32(0), cb.Counts().Requests)
}

func TestGroupIsolatesKeys(t *testing.T) {
	g := NewGroup("tools-test", Config{FailureThreshold: 1, Timeout: time.Minute}, zaptest.NewLogger(t))
	ctx := context.Background()

	_ = g.Execute(ctx, "web_search", func() error { return errBoom })
	assert.Equal(t, StateOpen, g.Get("web_search").State())
	assert.Equal(t, StateClosed, g.Get("write_file").State())
	assert.Same(t, g.Get("web_search"), g.Get("web_search"))
}

func TestHTTPWrapperCountsServerErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "model-test", "models-test",
		Settings{MaxRequests: 1, Timeout: time.Minute, FailureThreshold: 2, SuccessThreshold: 1}, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.State())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("CB_MODEL_FAILURE_THRESHOLD", "9")
	t.Setenv("CB_MODEL_TIMEOUT", "3s")
	s := ModelSettings()
	assert.Equal(t, uint32(9), s.FailureThreshold)
	assert.Equal(t, 3*time.Second, s.Timeout)

	merged := Settings{FailureThreshold: 1}.Merge(ToolSettings())
	assert.Equal(t, uint32(1), merged.FailureThreshold)
	assert.Equal(t, uint32(2), merged.MaxRequests)
}
