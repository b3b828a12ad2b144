package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// Activity names registered with the Temporal worker.
const (
	ClarifyActivity          = "Clarify"
	WriteBriefActivity       = "WriteBrief"
	SuperviseActivity        = "Supervise"
	DraftReportActivity      = "DraftReport"
	ProposeToolsActivity     = "ProposeTools"
	RaiseInterruptActivity   = "RaiseInterrupt"
	ResolveInterruptActivity = "ResolveInterrupt"
	ExecuteToolsActivity     = "ExecuteTools"
)

// PipelineSource yields the stages for one step. *Builder implements it.
type PipelineSource interface {
	Pipeline(ctx context.Context) (*Pipeline, error)
}

// NodeInput carries the run state into an activity
type NodeInput struct {
	State *state.RunState `json:"state"`
}

// ResolveInput carries a human decision for the pending interrupt
type ResolveInput struct {
	State    *state.RunState      `json:"state"`
	Decision state.ResumeDecision `json:"decision"`
}

// Activities struct holds dependencies for activities
type Activities struct {
	source PipelineSource
	logger *zap.Logger
}

// NewActivities creates a new activities instance with dependencies
func NewActivities(source PipelineSource, logger *zap.Logger) *Activities {
	return &Activities{source: source, logger: logger}
}

func (a *Activities) pipeline(ctx context.Context) (*Pipeline, error) {
	p, err := a.source.Pipeline(ctx)
	if err != nil {
		a.logger.Error("Failed to assemble pipeline", zap.Error(err))
		return nil, err
	}
	return p, nil
}

// unlessCancelled discards output a stage degraded because its context ended,
// so Temporal retries the attempt instead of recording it.
func unlessCancelled(ctx context.Context, u state.Update) (state.Update, error) {
	if err := ctx.Err(); err != nil {
		return state.Update{}, err
	}
	return u, nil
}

// Clarify retries internally, so exhaustion is not retried by Temporal.
func (a *Activities) Clarify(ctx context.Context, in NodeInput) (state.Update, error) {
	activity.GetLogger(ctx).Info("Clarifying request", "run_id", in.State.RunID)
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	u, err := p.Clarifier.Clarify(ctx, in.State.Messages)
	if err != nil {
		return state.Update{}, nonRetryable(err, "ClarifyFailed")
	}
	return u, nil
}

func (a *Activities) WriteBrief(ctx context.Context, in NodeInput) (state.Update, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	u, err := p.Clarifier.WriteBrief(ctx, in.State.Messages)
	if err != nil {
		return state.Update{}, nonRetryable(err, "BriefFailed")
	}
	return u, nil
}

func (a *Activities) Supervise(ctx context.Context, in NodeInput) (state.Update, error) {
	activity.GetLogger(ctx).Info("Starting research", "run_id", in.State.RunID)
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	return unlessCancelled(ctx, p.Supervisor.Run(ctx, in.State))
}

func (a *Activities) DraftReport(ctx context.Context, in NodeInput) (state.Update, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	return unlessCancelled(ctx, p.Reports.Write(ctx, in.State))
}

func (a *Activities) ProposeTools(ctx context.Context, in NodeInput) (state.Update, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	return unlessCancelled(ctx, p.ToolLoop.Propose(ctx, in.State))
}

// RaiseInterrupt runs as an activity because interrupt IDs are random.
func (a *Activities) RaiseInterrupt(ctx context.Context, in NodeInput) (state.Update, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	return p.ToolLoop.Gate(in.State), nil
}

func (a *Activities) ResolveInterrupt(ctx context.Context, in ResolveInput) (state.Update, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	u, err := p.ToolLoop.ResolveGate(in.State, in.Decision)
	if err != nil {
		return state.Update{}, nonRetryable(err, "InvalidResume")
	}
	return u, nil
}

func (a *Activities) ExecuteTools(ctx context.Context, in NodeInput) (state.Update, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return state.Update{}, err
	}
	return p.ToolLoop.Execute(ctx, in.State), nil
}

func nonRetryable(err error, kind string) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}
