package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/util"
)

// ErrInvalidResume rejects a resume that does not fit the pending interrupt.
var ErrInvalidResume = errors.New("invalid resume")

// FeedbackPrefix starts the tool message recorded for each rejected call.
const FeedbackPrefix = "User rejected this tool call with feedback: "

// Approver decides whether a batch of calls must pass the human gate.
// policy.ApprovalPolicy implements it.
type Approver interface {
	RequiresApproval(ctx context.Context, runID string, calls []state.ToolCall) bool
}

// ToolLoop persists the report through PROPOSE, HUMAN_GATE and EXECUTE steps
type ToolLoop struct {
	model    models.ChatModel
	gateway  *tools.Gateway
	approver Approver
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

func NewToolLoop(model models.ChatModel, gateway *tools.Gateway, approver Approver, settings Settings, logger *zap.Logger) *ToolLoop {
	return &ToolLoop{
		model:    model,
		gateway:  gateway,
		approver: approver,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Propose asks the model for the next persistence step and routes it.
func (l *ToolLoop) Propose(ctx context.Context, st *state.RunState) state.Update {
	logger := l.logger.With(zap.String("run_id", st.RunID))
	if st.ToolLoopIterations >= l.settings.MaxToolLoopIterations {
		logger.Warn("Tool loop iteration cap reached", zap.Int("iterations", st.ToolLoopIterations))
		return state.Update{Next: state.NodeEnd, Status: state.StatusDone}
	}

	resp, err := l.model.Generate(ctx, models.ChatRequest{
		Stage:     models.StageToolLoop,
		Model:     l.settings.ResearchModel,
		MaxTokens: l.settings.ResearchMaxTokens,
		Messages:  st.ToolMessages,
		Tools:     l.gateway.Specs(),
	})
	if err != nil {
		logger.Error("Tool manager call failed, ending run", zap.Error(err))
		return state.Update{
			Next:   state.NodeEnd,
			Status: state.StatusDone,
			Error:  fmt.Sprintf("tool manager unavailable: %v", err),
		}
	}

	update := state.Update{
		ToolMessages:       []state.Message{resp},
		ToolLoopIterations: state.IntPtr(st.ToolLoopIterations + 1),
	}
	switch {
	case !resp.HasToolCalls():
		update.Next = state.NodeEnd
		update.Status = state.StatusDone
	case l.approver != nil && l.approver.RequiresApproval(ctx, st.RunID, resp.ToolCalls):
		update.Next = state.NodeHumanGate
	default:
		update.Next = state.NodeToolExecute
	}
	return update
}

// Gate raises the approval interrupt for the calls of the last proposal.
func (l *ToolLoop) Gate(st *state.RunState) state.Update {
	calls := pendingToolCalls(st.ToolMessages)
	intr := &state.InterruptRequest{
		ID:               uuid.New().String(),
		Message:          interruptMessage(calls),
		PendingToolCalls: calls,
		CreatedAt:        l.now().UTC(),
	}
	metrics.InterruptsRaised.Inc()
	l.logger.Info("Awaiting tool approval",
		zap.String("run_id", st.RunID),
		zap.String("interrupt_id", intr.ID),
		zap.Int("calls", len(calls)),
	)
	return state.Update{
		Next:      state.NodeHumanGate,
		Status:    state.StatusAwaitingApproval,
		Interrupt: intr,
	}
}

// ResolveGate applies a human decision to the pending interrupt. Any error
// leaves the run as it was.
func (l *ToolLoop) ResolveGate(st *state.RunState, d state.ResumeDecision) (state.Update, error) {
	intr := st.PendingInterrupt
	if intr == nil {
		return state.Update{}, fmt.Errorf("%w: no pending interrupt", ErrInvalidResume)
	}
	if err := d.Validate(); err != nil {
		return state.Update{}, fmt.Errorf("%w: %w", ErrInvalidResume, err)
	}
	if d.ApprovalID != "" && d.ApprovalID != intr.ID {
		return state.Update{}, fmt.Errorf("%w: approval id %q does not match pending interrupt", ErrInvalidResume, d.ApprovalID)
	}

	metrics.InterruptsResolved.WithLabelValues(string(d.Action)).Inc()
	l.logger.Info("Tool approval resolved",
		zap.String("run_id", st.RunID),
		zap.String("interrupt_id", intr.ID),
		zap.String("action", string(d.Action)),
		zap.String("approved_by", d.ApprovedBy),
	)

	if d.Action == state.ResumeAccept {
		return state.Update{Next: state.NodeToolExecute, Status: state.StatusRunning, ClearInterrupt: true}, nil
	}
	msgs := make([]state.Message, 0, len(intr.PendingToolCalls))
	for _, c := range intr.PendingToolCalls {
		msgs = append(msgs, state.ToolMessage(c, FeedbackPrefix+d.Feedback))
	}
	return state.Update{
		Next:           state.NodeToolPropose,
		Status:         state.StatusRunning,
		ToolMessages:   msgs,
		ClearInterrupt: true,
	}, nil
}

// Execute runs the calls of the last proposal and returns to PROPOSE.
func (l *ToolLoop) Execute(ctx context.Context, st *state.RunState) state.Update {
	calls := pendingToolCalls(st.ToolMessages)
	return state.Update{
		Next:         state.NodeToolPropose,
		ToolMessages: l.gateway.InvokeAll(ctx, calls),
	}
}

// pendingToolCalls returns the calls of the last assistant message
func pendingToolCalls(conv state.Conversation) []state.ToolCall {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == state.RoleAssistant {
			return append([]state.ToolCall(nil), conv[i].ToolCalls...)
		}
	}
	return nil
}

func interruptMessage(calls []state.ToolCall) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Approve %d tool call(s) before they run:", len(calls))
	for _, c := range calls {
		sb.WriteString("\n- ")
		sb.WriteString(c.Name)
		if p := c.ArgString("path"); p != "" {
			sb.WriteString(" ")
			sb.WriteString(util.TruncateString(p, 120, false))
		}
	}
	sb.WriteString("\nReply with accept, or feedback describing what to change.")
	return sb.String()
}
