package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tracing"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrNotAwaitingUser    = errors.New("run is not awaiting a user reply")
	ErrNoPendingInterrupt = errors.New("run has no pending interrupt")
	ErrInvalidResume      = activities.ErrInvalidResume
	// ErrRunInterrupted means the caller's context ended mid-node. The run
	// keeps its last checkpoint and can be picked up with Recover.
	ErrRunInterrupted = errors.New("run interrupted")
	ErrNotRecoverable = errors.New("run is not recoverable")
)

// DefaultEventRetention is how long replay history outlives a finished run.
const DefaultEventRetention = 10 * time.Minute

// Outcome is what a caller sees after the engine stops: the run state plus
// the interrupt or question that suspended it, if any.
type Outcome struct {
	State     *state.RunState         `json:"state"`
	Interrupt *state.InterruptRequest `json:"interrupt,omitempty"`
	Question  string                  `json:"question,omitempty"`
}

// Engine drives runs node by node, checkpointing after every step so a
// suspended run can be resumed by another process.
type Engine struct {
	source activities.PipelineSource
	store  checkpoint.Store
	events *streaming.Manager
	logger *zap.Logger

	now       func() time.Time
	newID     func() string
	retention time.Duration

	locksMu sync.Mutex
	locks   map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithEvents publishes run progress on m.
func WithEvents(m *streaming.Manager) EngineOption {
	return func(e *Engine) { e.events = m }
}

// WithEventRetention sets how long a finished run's events stay replayable.
// A non-positive d keeps them for the life of the process.
func WithEventRetention(d time.Duration) EngineOption {
	return func(e *Engine) { e.retention = d }
}

// WithClock overrides time and ID generation.
func WithClock(now func() time.Time, newID func() string) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
		if newID != nil {
			e.newID = newID
		}
	}
}

func NewEngine(source activities.PipelineSource, store checkpoint.Store, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		source: source,
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },

		retention: DefaultEventRetention,
		locks:     make(map[string]*runLock),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lock serializes work on one run. Entries are dropped once nobody holds or
// waits on them.
func (e *Engine) lock(runID string) func() {
	e.locksMu.Lock()
	l := e.locks[runID]
	if l == nil {
		l = &runLock{}
		e.locks[runID] = l
	}
	l.refs++
	e.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, runID)
		}
		e.locksMu.Unlock()
	}
}

func (e *Engine) lockCount() int {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	return len(e.locks)
}

// Start creates a run for the user's request and drives it until it
// suspends or finishes.
func (e *Engine) Start(ctx context.Context, userText string) (*Outcome, error) {
	st := state.NewRunState(e.newID(), userText, e.now().UTC())
	unlock := e.lock(st.RunID)
	defer unlock()

	p, err := e.source.Pipeline(ctx)
	if err != nil {
		return nil, err
	}

	metrics.RunsStarted.Inc()
	e.logger.Info("Starting planning run", zap.String("run_id", st.RunID))
	if err := e.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to checkpoint new run: %w", err)
	}
	return e.runWith(ctx, p, st)
}

// Recover drives a run that was interrupted mid-node from its last
// checkpoint. Suspended and finished runs are not recoverable.
func (e *Engine) Recover(ctx context.Context, runID string) (*Outcome, error) {
	unlock := e.lock(runID)
	defer unlock()

	st, err := e.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Status != state.StatusRunning {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRecoverable, st.Status)
	}
	e.logger.Info("Recovering planning run", zap.String("run_id", runID), zap.String("node", st.Node.String()))
	return e.run(ctx, st)
}

// Continue answers the outstanding clarifying question.
func (e *Engine) Continue(ctx context.Context, runID, userText string) (*Outcome, error) {
	unlock := e.lock(runID)
	defer unlock()

	st, err := e.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Status != state.StatusAwaitingUser {
		return nil, fmt.Errorf("%w: status is %s", ErrNotAwaitingUser, st.Status)
	}
	if err := st.Apply(state.Update{
		Next:     state.NodeClarify,
		Status:   state.StatusRunning,
		Messages: []state.Message{state.UserMessage(userText)},
	}, e.now().UTC()); err != nil {
		return nil, err
	}
	return e.run(ctx, st)
}

// Resume applies a human decision to the pending approval interrupt. An
// invalid decision leaves the stored run untouched.
func (e *Engine) Resume(ctx context.Context, runID string, d state.ResumeDecision) (*Outcome, error) {
	unlock := e.lock(runID)
	defer unlock()

	st, err := e.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.PendingInterrupt == nil || st.Status != state.StatusAwaitingApproval {
		return nil, ErrNoPendingInterrupt
	}
	p, err := e.source.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	u, err := p.ToolLoop.ResolveGate(st.Clone(), d)
	if err != nil {
		return nil, err
	}
	if err := e.apply(ctx, st, state.NodeHumanGate, u); err != nil {
		return nil, err
	}
	return e.runWith(ctx, p, st)
}

// GetPendingInterrupt returns the interrupt awaiting approval, or nil.
func (e *Engine) GetPendingInterrupt(ctx context.Context, runID string) (*state.InterruptRequest, error) {
	st, err := e.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return st.PendingInterrupt, nil
}

// Get returns the stored state of a run.
func (e *Engine) Get(ctx context.Context, runID string) (*state.RunState, error) {
	return e.load(ctx, runID)
}

func (e *Engine) load(ctx context.Context, runID string) (*state.RunState, error) {
	st, err := e.store.Load(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return st, nil
}

func (e *Engine) run(ctx context.Context, st *state.RunState) (*Outcome, error) {
	p, err := e.source.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	return e.runWith(ctx, p, st)
}

func (e *Engine) runWith(ctx context.Context, p *activities.Pipeline, st *state.RunState) (*Outcome, error) {
	for !st.Status.Suspended() && !st.Status.Terminal() {
		node := st.Node
		u, err := e.execute(ctx, p, st)
		// Stages degrade on cancellation, so their output is discarded.
		if ctx.Err() != nil {
			return e.interrupted(ctx, st, node)
		}
		if err != nil {
			return e.fail(ctx, st, err)
		}
		if err := e.apply(ctx, st, node, u); err != nil {
			if ctx.Err() != nil {
				return e.interrupted(ctx, st, node)
			}
			return e.fail(ctx, st, err)
		}
	}
	return e.finish(st), nil
}

// interrupted leaves the run at its last checkpoint, still running, so
// Recover can pick it up.
func (e *Engine) interrupted(ctx context.Context, st *state.RunState, node state.NodeKind) (*Outcome, error) {
	e.logger.Warn("Planning run interrupted",
		zap.String("run_id", st.RunID),
		zap.String("node", node.String()),
		zap.Error(ctx.Err()),
	)
	return &Outcome{State: st}, fmt.Errorf("%w at %s: %v", ErrRunInterrupted, node, ctx.Err())
}

// execute runs one node inside a span and records its metrics.
func (e *Engine) execute(ctx context.Context, p *activities.Pipeline, st *state.RunState) (state.Update, error) {
	node := st.Node.String()
	ctx = interceptors.WithRunID(ctx, st.RunID)
	ctx, span := tracing.StartNodeSpan(ctx, st.RunID, node)
	defer span.End()

	start := time.Now()
	u, err := e.step(ctx, p, st.Clone())
	metrics.NodeDuration.WithLabelValues(node).Observe(time.Since(start).Seconds())
	metrics.NodeExecutions.WithLabelValues(node, metrics.Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return u, err
}

// step dispatches on the node kind. Stages only see a copy of the state.
func (e *Engine) step(ctx context.Context, p *activities.Pipeline, st *state.RunState) (state.Update, error) {
	switch st.Node {
	case state.NodeClarify:
		return p.Clarifier.Clarify(ctx, st.Messages)
	case state.NodeWriteBrief:
		return p.Clarifier.WriteBrief(ctx, st.Messages)
	case state.NodeSupervisor:
		return p.Supervisor.Run(ctx, st), nil
	case state.NodeFinalReport:
		return p.Reports.Write(ctx, st), nil
	case state.NodeToolPropose:
		return p.ToolLoop.Propose(ctx, st), nil
	case state.NodeHumanGate:
		return p.ToolLoop.Gate(st), nil
	case state.NodeToolExecute:
		return p.ToolLoop.Execute(ctx, st), nil
	case state.NodeEnd:
		return state.Update{Next: state.NodeEnd, Status: state.StatusDone}, nil
	default:
		return state.Update{}, fmt.Errorf("unknown node %s", st.Node)
	}
}

// apply folds the update, checkpoints and announces the completed node.
func (e *Engine) apply(ctx context.Context, st *state.RunState, node state.NodeKind, u state.Update) error {
	if err := st.Apply(u, e.now().UTC()); err != nil {
		return err
	}
	if err := e.store.Save(ctx, st); err != nil {
		return fmt.Errorf("failed to checkpoint run %s: %w", st.RunID, err)
	}
	e.publish(st.RunID, streaming.Event{
		Type:    streaming.EventNodeCompleted,
		Node:    node.String(),
		Status:  string(st.Status),
		Message: formatting.Describe(node, u),
	})
	return nil
}

func (e *Engine) fail(ctx context.Context, st *state.RunState, cause error) (*Outcome, error) {
	e.logger.Error("Planning run failed",
		zap.String("run_id", st.RunID),
		zap.String("node", st.Node.String()),
		zap.Error(cause),
	)
	if err := st.Apply(state.Update{Next: st.Node, Status: state.StatusFailed, Error: cause.Error()}, e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, st); err != nil {
		e.logger.Warn("Failed to checkpoint failed run", zap.String("run_id", st.RunID), zap.Error(err))
	}
	e.publish(st.RunID, streaming.Event{Type: streaming.EventRunFailed, Status: string(st.Status), Message: cause.Error()})
	metrics.RunsFinished.WithLabelValues(string(state.StatusFailed)).Inc()
	e.forgetLater(st.RunID)
	return &Outcome{State: st}, cause
}

func (e *Engine) finish(st *state.RunState) *Outcome {
	out := &Outcome{State: st}
	switch st.Status {
	case state.StatusAwaitingUser:
		if last, ok := st.Messages.Last(); ok && last.Role == state.RoleAssistant {
			out.Question = last.Content
		}
		e.publish(st.RunID, streaming.Event{Type: streaming.EventQuestion, Status: string(st.Status), Message: out.Question})
	case state.StatusAwaitingApproval:
		out.Interrupt = st.PendingInterrupt
		if out.Interrupt != nil {
			e.publish(st.RunID, streaming.Event{Type: streaming.EventInterrupt, Status: string(st.Status), Message: out.Interrupt.Message})
		}
	case state.StatusDone:
		e.logger.Info("Planning run complete", zap.String("run_id", st.RunID))
		e.publish(st.RunID, streaming.Event{Type: streaming.EventRunCompleted, Status: string(st.Status), Message: "Run complete"})
		e.forgetLater(st.RunID)
	}
	metrics.RunsFinished.WithLabelValues(string(st.Status)).Inc()
	return out
}

func (e *Engine) publish(runID string, evt streaming.Event) {
	if e.events == nil {
		return
	}
	evt.Timestamp = e.now().UTC()
	e.events.Publish(runID, evt)
}

// forgetLater drops a finished run's replay history after the retention
// window, leaving late subscribers time to catch up.
func (e *Engine) forgetLater(runID string) {
	if e.events == nil || e.retention <= 0 {
		return
	}
	time.AfterFunc(e.retention, func() { e.events.Forget(runID) })
}
