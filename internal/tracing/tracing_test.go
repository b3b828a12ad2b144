package tracing

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNodeSpanAndTraceparent(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	SetTracerProvider(tp)
	defer SetTracerProvider(sdktrace.NewTracerProvider())

	ctx, span := StartNodeSpan(context.Background(), "run-1", "supervisor")
	req, _ := http.NewRequest(http.MethodPost, "http://model.local/v1/chat/completions", nil)
	InjectTraceparent(ctx, req)
	span.End()

	header := req.Header.Get("traceparent")
	assert.True(t, strings.HasPrefix(header, "00-"))
	assert.Len(t, strings.Split(header, "-"), 4)

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "node supervisor", ended[0].Name())
}

func TestTraceparentEmptyWithoutSpan(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	InjectTraceparent(context.Background(), req)
	assert.Empty(t, req.Header.Get("traceparent"))
}
