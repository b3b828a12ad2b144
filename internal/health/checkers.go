package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/checkpoint"
)

const slowThreshold = 100 * time.Millisecond

// StoreHealthChecker pings the checkpoint store (redis PING or sql ping)
type StoreHealthChecker struct {
	store   checkpoint.Store
	backend string
	logger  *zap.Logger
	timeout time.Duration
}

// NewStoreHealthChecker creates a checkpoint store health checker
func NewStoreHealthChecker(store checkpoint.Store, backend string, logger *zap.Logger) *StoreHealthChecker {
	return &StoreHealthChecker{
		store:   store,
		backend: backend,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (s *StoreHealthChecker) Name() string           { return "checkpoint" }
func (s *StoreHealthChecker) IsCritical() bool       { return true }
func (s *StoreHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *StoreHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "checkpoint",
		Critical:  true,
		Timestamp: startTime,
	}

	err := s.store.Ping(ctx)
	result.Duration = time.Since(startTime)
	result.Details = map[string]interface{}{
		"backend":    s.backend,
		"latency_ms": result.Duration.Milliseconds(),
	}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Checkpoint store ping failed"
	case result.Duration > slowThreshold:
		result.Status = StatusDegraded
		result.Message = "Checkpoint store responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Checkpoint store healthy"
	}
	return result
}

// ModelEndpointHealthChecker probes the OpenAI-compatible model endpoint
type ModelEndpointHealthChecker struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewModelEndpointHealthChecker creates a model endpoint health checker
func NewModelEndpointHealthChecker(baseURL, apiKey string, client *http.Client, logger *zap.Logger) *ModelEndpointHealthChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &ModelEndpointHealthChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (m *ModelEndpointHealthChecker) Name() string           { return "llm_service" }
func (m *ModelEndpointHealthChecker) IsCritical() bool       { return false } // Stages degrade on model failure
func (m *ModelEndpointHealthChecker) Timeout() time.Duration { return m.timeout }

func (m *ModelEndpointHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "llm_service",
		Critical:  false,
		Timestamp: startTime,
	}

	code, err := m.probe(ctx)
	result.Duration = time.Since(startTime)
	result.Details = map[string]interface{}{
		"base_url":   m.baseURL,
		"latency_ms": result.Duration.Milliseconds(),
	}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Model endpoint unreachable"
	case code >= 500:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Model endpoint responding with status %d", code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		result.Status = StatusDegraded
		result.Message = "Model endpoint rejected the API key"
	default:
		result.Status = StatusHealthy
		result.Message = "Model endpoint healthy"
	}
	return result
}

func (m *ModelEndpointHealthChecker) probe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/models", nil)
	if err != nil {
		return 0, err
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
