package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

// RunEngine is the run lifecycle served over HTTP. *workflows.Engine implements it.
type RunEngine interface {
	Start(ctx context.Context, userText string) (*workflows.Outcome, error)
	Continue(ctx context.Context, runID, userText string) (*workflows.Outcome, error)
	Resume(ctx context.Context, runID string, d state.ResumeDecision) (*workflows.Outcome, error)
	Recover(ctx context.Context, runID string) (*workflows.Outcome, error)
	GetPendingInterrupt(ctx context.Context, runID string) (*state.InterruptRequest, error)
	Get(ctx context.Context, runID string) (*state.RunState, error)
}

// RunHandler exposes the planning engine.
type RunHandler struct {
	engine RunEngine
	logger *zap.Logger
	base   context.Context
}

func NewRunHandler(engine RunEngine, logger *zap.Logger) *RunHandler {
	return &RunHandler{engine: engine, logger: logger, base: context.Background()}
}

// WithBaseContext ties driven runs to ctx instead of the request, so a client
// disconnect does not abort a run while server shutdown still does.
func (h *RunHandler) WithBaseContext(ctx context.Context) *RunHandler {
	h.base = ctx
	return h
}

// runContext keeps request values but drops request cancellation.
func (h *RunHandler) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(h.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// RegisterRoutes registers run routes on mux, each wrapped by mw when non-nil.
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	wrap := func(scope string, fn http.HandlerFunc) http.Handler {
		var handler http.Handler = requireScope(scope, fn)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}
	mux.Handle("POST /runs", wrap(auth.ScopeRunsWrite, h.handleStart))
	mux.Handle("POST /runs/{id}/messages", wrap(auth.ScopeRunsWrite, h.handleContinue))
	mux.Handle("POST /runs/{id}/resume", wrap(auth.ScopeRunsApprove, h.handleResume))
	mux.Handle("POST /runs/{id}/recover", wrap(auth.ScopeRunsWrite, h.handleRecover))
	mux.Handle("GET /runs/{id}/interrupt", wrap(auth.ScopeRunsRead, h.handleInterrupt))
	mux.Handle("GET /runs/{id}", wrap(auth.ScopeRunsRead, h.handleGet))
}

// requireScope is a no-op when no principal is attached.
func requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipal(r.Context()); ok {
			if err := auth.RequireScopes(r.Context(), scope); err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
		}
		next(w, r)
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

// runResponse is the outcome of a driving call.
type runResponse struct {
	RunID       string                  `json:"run_id"`
	Status      state.Status            `json:"status"`
	Node        string                  `json:"node"`
	Question    string                  `json:"question,omitempty"`
	Interrupt   *state.InterruptRequest `json:"interrupt,omitempty"`
	FinalReport string                  `json:"final_report,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

func newRunResponse(out *workflows.Outcome) runResponse {
	return runResponse{
		RunID:       out.State.RunID,
		Status:      out.State.Status,
		Node:        out.State.Node.String(),
		Question:    out.Question,
		Interrupt:   out.Interrupt,
		FinalReport: out.State.FinalReport,
		Error:       out.State.Error,
	}
}

func (h *RunHandler) readMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req messageRequest
	if err := decodeStrict(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return "", false
	}
	return req.Message, true
}

func (h *RunHandler) respond(w http.ResponseWriter, okCode int, out *workflows.Outcome, err error) {
	if err != nil {
		h.logger.Warn("Run request failed", zap.Error(err))
		if out != nil && out.State != nil {
			// The run exists but a stage failed fatally.
			resp := newRunResponse(out)
			resp.Error = err.Error()
			writeJSON(w, statusFor(err), resp)
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, okCode, newRunResponse(out))
}

func (h *RunHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.readMessage(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.runContext(r)
	defer cancel()
	out, err := h.engine.Start(ctx, msg)
	h.respond(w, http.StatusCreated, out, err)
}

func (h *RunHandler) handleContinue(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.readMessage(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.runContext(r)
	defer cancel()
	out, err := h.engine.Continue(ctx, r.PathValue("id"), msg)
	h.respond(w, http.StatusOK, out, err)
}

func (h *RunHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	var d state.ResumeDecision
	if err := decodeStrict(w, r, &d); err != nil {
		h.logger.Warn("Resume decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p, ok := auth.GetPrincipal(r.Context()); ok && p.Method != auth.MethodNone {
		d.ApprovedBy = p.Subject
	}
	ctx, cancel := h.runContext(r)
	defer cancel()
	out, err := h.engine.Resume(ctx, r.PathValue("id"), d)
	h.respond(w, http.StatusOK, out, err)
}

func (h *RunHandler) handleRecover(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.runContext(r)
	defer cancel()
	out, err := h.engine.Recover(ctx, r.PathValue("id"))
	h.respond(w, http.StatusOK, out, err)
}

func (h *RunHandler) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	intr, err := h.engine.GetPendingInterrupt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if intr == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, intr)
}

func (h *RunHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}
