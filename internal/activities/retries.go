package activities

import (
	"context"
	"errors"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/retry"
)

// Retry call sites, used as metric labels.
const (
	siteClarify  = "clarify"
	siteBrief    = "research_brief"
	siteCompress = "compress"
	siteReport   = "report_draft"
)

// counted wraps op so every attempt after the first is recorded as a retry
// and exhaustion is recorded once.
func counted[T any](site string, op func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	attempt := 0
	return func(ctx context.Context) (T, error) {
		attempt++
		if attempt > 1 {
			metrics.Retries.WithLabelValues(site).Inc()
		}
		return op(ctx)
	}
}

func recordExhausted(site string, err error) {
	if errors.Is(err, retry.ErrMaxRetriesExceeded) {
		metrics.RetryExhausted.WithLabelValues(site).Inc()
	}
}
