package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on demand and aggregates their results
type Manager struct {
	checkers    map[string]Checker
	lastResults map[string]CheckResult
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers:    make(map[string]Checker),
		lastResults: make(map[string]CheckResult),
		logger:      logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// GetDetailedHealth runs every checker concurrently, each bounded by its timeout.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	startTime := time.Now()
	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = m.runSingleCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	components := make(map[string]CheckResult, len(checkers))
	summary := HealthSummary{Total: len(checkers)}
	for i, r := range results {
		components[checkers[i].Name()] = r
		switch r.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		default:
			summary.Unhealthy++
		}
		if r.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}

	m.mu.Lock()
	for name, r := range components {
		m.lastResults[name] = r
	}
	m.mu.Unlock()

	overall := calculateOverallStatus(components)
	overall.Duration = time.Since(startTime)
	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  startTime,
	}
}

func (m *Manager) runSingleCheck(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	result := c.Check(ctx)
	if result.Component == "" {
		result.Component = c.Name()
	}
	result.Critical = c.IsCritical()
	if ctx.Err() == context.DeadlineExceeded && result.Status == StatusHealthy {
		result.Status = StatusDegraded
		result.Message = "health check timed out"
	}
	if result.Status != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("checker", c.Name()),
			zap.String("status", result.Status.String()),
			zap.String("error", result.Error),
		)
	}
	return result
}

// calculateOverallStatus: a failing critical check makes the service unhealthy
// and not ready; anything else short of healthy only degrades it.
func calculateOverallStatus(components map[string]CheckResult) OverallHealth {
	overall := OverallHealth{
		Status:    StatusHealthy,
		Message:   "All systems operational",
		Timestamp: time.Now(),
		Ready:     true,
		Live:      true,
	}
	for name, r := range components {
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			overall.Status = StatusUnhealthy
			overall.Ready = false
			overall.Message = fmt.Sprintf("critical component %s is unhealthy", name)
		case r.Status != StatusHealthy && overall.Status == StatusHealthy:
			overall.Status = StatusDegraded
			overall.Degraded = true
			overall.Message = fmt.Sprintf("component %s is %s", name, r.Status)
		}
	}
	if overall.Status == StatusUnhealthy {
		overall.Degraded = false
	}
	return overall
}

// GetOverallHealth returns the overall health status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	return m.GetDetailedHealth(ctx).Overall
}

// IsReady returns true if no critical checker is unhealthy
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetDetailedHealth(ctx).Overall.Ready
}

// IsLive reports process liveness; it never runs dependency checks.
func (m *Manager) IsLive(ctx context.Context) bool {
	return true
}

// GetLastResults returns the results of the most recent run
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.lastResults))
	for k, v := range m.lastResults {
		out[k] = v
	}
	return out
}
