package interceptors

import (
	"context"
	"net/http"

	"go.temporal.io/sdk/activity"
)

// Correlation headers set on outbound model and tool requests.
const (
	HeaderRunID        = "X-Planner-Run-ID"
	HeaderWorkflowID   = "X-Workflow-ID"
	HeaderWorkflowRun  = "X-Workflow-Run-ID"
	HeaderActivityType = "X-Activity-Type"
)

type runIDKey struct{}

// WithRunID tags ctx with the planning run being executed.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run tagged by WithRunID.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// RunRoundTripper adds run and workflow correlation headers to outgoing requests
type RunRoundTripper struct {
	base http.RoundTripper
}

func NewRunRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RunRoundTripper{base: base}
}

func (t *RunRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	runID, hasRun := RunIDFrom(ctx)
	info, inActivity := activityInfo(ctx)
	if !hasRun && !inActivity {
		return t.base.RoundTrip(req)
	}

	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(ctx)
	if hasRun {
		req.Header.Set(HeaderRunID, runID)
	}
	if inActivity {
		req.Header.Set(HeaderWorkflowID, info.WorkflowExecution.ID)
		req.Header.Set(HeaderWorkflowRun, info.WorkflowExecution.RunID)
		req.Header.Set(HeaderActivityType, info.ActivityType.Name)
	}
	return t.base.RoundTrip(req)
}

// activityInfo is safe outside a Temporal activity, where GetInfo panics.
func activityInfo(ctx context.Context) (info activity.Info, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	info = activity.GetInfo(ctx)
	return info, info.WorkflowExecution.ID != ""
}
