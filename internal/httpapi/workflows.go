package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

// WorkflowHandler drives durable planning runs on Temporal. Replies and
// reviews are forwarded as signals; interrupts are read with queries.
type WorkflowHandler struct {
	temporal  client.Client
	taskQueue string
	logger    *zap.Logger
}

func NewWorkflowHandler(t client.Client, taskQueue string, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{temporal: t, taskQueue: taskQueue, logger: logger}
}

// RegisterRoutes registers workflow routes on mux, each wrapped by mw when non-nil.
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	wrap := func(scope string, fn http.HandlerFunc) http.Handler {
		var handler http.Handler = requireScope(scope, fn)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}
	mux.Handle("POST /workflows", wrap(auth.ScopeRunsWrite, h.handleStart))
	mux.Handle("POST /workflows/{id}/messages", wrap(auth.ScopeRunsWrite, h.handleReply))
	mux.Handle("POST /workflows/{id}/resume", wrap(auth.ScopeRunsApprove, h.handleReview))
	mux.Handle("GET /workflows/{id}/interrupt", wrap(auth.ScopeRunsRead, h.handleInterrupt))
	mux.Handle("GET /workflows/{id}", wrap(auth.ScopeRunsRead, h.handleState))
}

func (h *WorkflowHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeStrict(w, r, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	runID := uuid.New().String()
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	run, err := h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "planner-" + runID,
		TaskQueue: h.taskQueue,
	}, workflows.PlanningWorkflow, workflows.PlanningInput{RunID: runID, Message: req.Message})
	if err != nil {
		h.logger.Error("Failed to start workflow", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to start workflow")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": run.GetID(),
		"run_id":      runID,
	})
}

func (h *WorkflowHandler) signal(w http.ResponseWriter, r *http.Request, name string, payload any) {
	workflowID := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.temporal.SignalWorkflow(ctx, workflowID, "", name, payload); err != nil {
		h.logger.Error("Failed to signal workflow",
			zap.String("workflow_id", workflowID),
			zap.String("signal", name),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to signal workflow")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "workflow_id": workflowID})
}

func (h *WorkflowHandler) handleReply(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeStrict(w, r, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	h.signal(w, r, workflows.SignalUserReply, workflows.UserReply{Message: req.Message})
}

// handleReview validates the decision shape up front; the workflow checks the
// interrupt ID and ignores stale reviews.
func (h *WorkflowHandler) handleReview(w http.ResponseWriter, r *http.Request) {
	var d state.ResumeDecision
	if err := decodeStrict(w, r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p, ok := auth.GetPrincipal(r.Context()); ok && p.Method != auth.MethodNone {
		d.ApprovedBy = p.Subject
	}
	h.signal(w, r, workflows.SignalToolReview, d)
}

func (h *WorkflowHandler) query(w http.ResponseWriter, r *http.Request, name string, out any) bool {
	workflowID := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	val, err := h.temporal.QueryWorkflow(ctx, workflowID, "", name)
	if err != nil {
		h.logger.Warn("Failed to query workflow", zap.String("workflow_id", workflowID), zap.String("query", name), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to query workflow")
		return false
	}
	if err := val.Get(out); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to decode query result")
		return false
	}
	return true
}

func (h *WorkflowHandler) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var intr *state.InterruptRequest
	if !h.query(w, r, workflows.QueryPendingInterrupt, &intr) {
		return
	}
	if intr == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, intr)
}

func (h *WorkflowHandler) handleState(w http.ResponseWriter, r *http.Request) {
	var st state.RunState
	if !h.query(w, r, workflows.QueryRunState, &st) {
		return
	}
	writeJSON(w, http.StatusOK, st)
}
