package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// Signal and query names of PlanningWorkflow.
const (
	SignalUserReply       = "user-reply"
	SignalToolReview      = "tool-review"
	QueryPendingInterrupt = "pending_interrupt"
	QueryRunState         = "run_state"
)

// PlanningInput starts a durable planning run
type PlanningInput struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// UserReply answers a clarifying question
type UserReply struct {
	Message string `json:"message"`
}

// PlanningWorkflow is the Temporal rendition of the engine loop. Questions
// wait on the user-reply signal and approvals on the tool-review signal.
func PlanningWorkflow(ctx workflow.Context, in PlanningInput) (*state.RunState, error) {
	logger := workflow.GetLogger(ctx)
	st := state.NewRunState(in.RunID, in.Message, workflow.Now(ctx))

	if err := workflow.SetQueryHandler(ctx, QueryPendingInterrupt, func() (*state.InterruptRequest, error) {
		return st.PendingInterrupt, nil
	}); err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(ctx, QueryRunState, func() (*state.RunState, error) {
		return st, nil
	}); err != nil {
		return nil, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
	replies := workflow.GetSignalChannel(ctx, SignalUserReply)
	reviews := workflow.GetSignalChannel(ctx, SignalToolReview)

	for !st.Status.Terminal() {
		var u state.Update
		switch st.Status {
		case state.StatusAwaitingUser:
			var reply UserReply
			replies.Receive(ctx, &reply)
			u = state.Update{
				Next:     state.NodeClarify,
				Status:   state.StatusRunning,
				Messages: []state.Message{state.UserMessage(reply.Message)},
			}
		case state.StatusAwaitingApproval:
			var d state.ResumeDecision
			reviews.Receive(ctx, &d)
			err := workflow.ExecuteActivity(ctx, activities.ResolveInterruptActivity,
				activities.ResolveInput{State: st, Decision: d}).Get(ctx, &u)
			if err != nil {
				logger.Warn("Rejected tool review", "run_id", st.RunID, "error", err)
				continue
			}
		default:
			name, err := activityFor(st.Node)
			if err != nil {
				return fail(ctx, st, err)
			}
			if name == "" {
				u = state.Update{Next: state.NodeEnd, Status: state.StatusDone}
			} else if err := workflow.ExecuteActivity(ctx, name, activities.NodeInput{State: st}).Get(ctx, &u); err != nil {
				return fail(ctx, st, err)
			}
		}
		if err := st.Apply(u, workflow.Now(ctx)); err != nil {
			return fail(ctx, st, err)
		}
		logger.Info("Node completed", "run_id", st.RunID, "next", st.Node.String(), "status", string(st.Status))
	}
	return st, nil
}

// activityFor maps a node to its activity. NodeEnd has none.
func activityFor(kind state.NodeKind) (string, error) {
	switch kind {
	case state.NodeClarify:
		return activities.ClarifyActivity, nil
	case state.NodeWriteBrief:
		return activities.WriteBriefActivity, nil
	case state.NodeSupervisor:
		return activities.SuperviseActivity, nil
	case state.NodeFinalReport:
		return activities.DraftReportActivity, nil
	case state.NodeToolPropose:
		return activities.ProposeToolsActivity, nil
	case state.NodeHumanGate:
		return activities.RaiseInterruptActivity, nil
	case state.NodeToolExecute:
		return activities.ExecuteToolsActivity, nil
	case state.NodeEnd:
		return "", nil
	default:
		return "", fmt.Errorf("unknown node %s", kind)
	}
}

func fail(ctx workflow.Context, st *state.RunState, cause error) (*state.RunState, error) {
	_ = st.Apply(state.Update{Next: st.Node, Status: state.StatusFailed, Error: cause.Error()}, workflow.Now(ctx))
	return st, cause
}
