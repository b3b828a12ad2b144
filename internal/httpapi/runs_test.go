package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

type fakeEngine struct {
	outcome   *workflows.Outcome
	err       error
	interrupt *state.InterruptRequest
	decision  state.ResumeDecision
	runID     string
	text      string

	// waitCancel makes driving calls block until their context ends.
	waitCancel bool
	ctxErr     error
}

func (f *fakeEngine) observe(ctx context.Context) {
	if f.waitCancel {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	f.ctxErr = ctx.Err()
}

func (f *fakeEngine) Start(ctx context.Context, text string) (*workflows.Outcome, error) {
	f.text = text
	f.observe(ctx)
	return f.outcome, f.err
}

func (f *fakeEngine) Continue(ctx context.Context, runID, text string) (*workflows.Outcome, error) {
	f.runID, f.text = runID, text
	return f.outcome, f.err
}

func (f *fakeEngine) Resume(ctx context.Context, runID string, d state.ResumeDecision) (*workflows.Outcome, error) {
	f.runID, f.decision = runID, d
	return f.outcome, f.err
}

func (f *fakeEngine) Recover(ctx context.Context, runID string) (*workflows.Outcome, error) {
	f.runID = runID
	f.observe(ctx)
	return f.outcome, f.err
}

func (f *fakeEngine) GetPendingInterrupt(ctx context.Context, runID string) (*state.InterruptRequest, error) {
	f.runID = runID
	return f.interrupt, f.err
}

func (f *fakeEngine) Get(ctx context.Context, runID string) (*state.RunState, error) {
	f.runID = runID
	if f.outcome == nil {
		return nil, f.err
	}
	return f.outcome.State, f.err
}

func newRunMux(t *testing.T, eng RunEngine, mw func(http.Handler) http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	NewRunHandler(eng, zaptest.NewLogger(t)).RegisterRoutes(mux, mw)
	return mux
}

func do(mux http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func questionOutcome() *workflows.Outcome {
	st := state.NewRunState("run-1", "todo app", time.Now())
	st.Status = state.StatusAwaitingUser
	return &workflows.Outcome{State: st, Question: "Web or mobile?"}
}

func TestStartRun(t *testing.T) {
	eng := &fakeEngine{outcome: questionOutcome()}
	mux := newRunMux(t, eng, nil)

	rec := do(mux, http.MethodPost, "/runs", `{"message":"todo app"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "todo app", eng.text)

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, state.StatusAwaitingUser, resp.Status)
	assert.Equal(t, "Web or mobile?", resp.Question)
	assert.Equal(t, "clarify", resp.Node)
}

func TestStartRunValidation(t *testing.T) {
	mux := newRunMux(t, &fakeEngine{outcome: questionOutcome()}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `hello`},
		{"empty message", `{"message":"  "}`},
		{"unknown field", `{"message":"x","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(mux, http.MethodPost, "/runs", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestStartRunFatalStage(t *testing.T) {
	st := state.NewRunState("run-2", "x", time.Now())
	st.Status = state.StatusFailed
	eng := &fakeEngine{outcome: &workflows.Outcome{State: st}, err: fmt.Errorf("%w: boom", activities.ErrClarifyFailed)}
	rec := do(newRunMux(t, eng, nil), http.MethodPost, "/runs", `{"message":"x"}`, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-2", resp.RunID)
	assert.Equal(t, state.StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "boom")
}

func TestResumeErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid resume", fmt.Errorf("%w: approval id mismatch", workflows.ErrInvalidResume), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: run-x", workflows.ErrRunNotFound), http.StatusNotFound},
		{"no interrupt", workflows.ErrNoPendingInterrupt, http.StatusConflict},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newRunMux(t, &fakeEngine{err: tt.err}, nil)
			rec := do(mux, http.MethodPost, "/runs/run-1/resume", `{"action":"accept","approval_id":"a1"}`, nil)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestResumeRejectsUnknownFields(t *testing.T) {
	eng := &fakeEngine{outcome: questionOutcome()}
	rec := do(newRunMux(t, eng, nil), http.MethodPost, "/runs/run-1/resume", `{"action":"accept","approved":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, eng.runID)
}

func TestContinueNotAwaitingUser(t *testing.T) {
	eng := &fakeEngine{err: workflows.ErrNotAwaitingUser}
	rec := do(newRunMux(t, eng, nil), http.MethodPost, "/runs/run-1/messages", `{"message":"web"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "run-1", eng.runID)
	assert.Equal(t, "web", eng.text)
}

func TestPendingInterrupt(t *testing.T) {
	eng := &fakeEngine{}
	mux := newRunMux(t, eng, nil)

	rec := do(mux, http.MethodGet, "/runs/run-1/interrupt", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	eng.interrupt = &state.InterruptRequest{ID: "i-1", PendingToolCalls: []state.ToolCall{{ID: "w1", Name: "write_file"}}}
	rec = do(mux, http.MethodGet, "/runs/run-1/interrupt", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var intr state.InterruptRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intr))
	assert.Equal(t, "i-1", intr.ID)

	eng.err = workflows.ErrRunNotFound
	rec = do(mux, http.MethodGet, "/runs/missing/interrupt", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeRecordsAuthenticatedApprover(t *testing.T) {
	jwtm := auth.NewJWTManager("secret", time.Hour)
	approver, err := jwtm.Issue("alice", auth.AllScopes)
	require.NoError(t, err)
	reader, err := jwtm.Issue("bob", []string{auth.ScopeRunsRead})
	require.NoError(t, err)

	authn := auth.NewAuthenticator(auth.Config{Enabled: true}, jwtm, zaptest.NewLogger(t))
	eng := &fakeEngine{outcome: questionOutcome()}
	mux := newRunMux(t, eng, authn.HTTPMiddleware)

	body := `{"action":"accept","approval_id":"a1","approved_by":"mallory"}`
	rec := do(mux, http.MethodPost, "/runs/run-1/resume", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(mux, http.MethodPost, "/runs/run-1/resume", body, map[string]string{"Authorization": "Bearer " + reader})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(mux, http.MethodPost, "/runs/run-1/resume", body, map[string]string{"Authorization": "Bearer " + approver})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", eng.decision.ApprovedBy)
	assert.Equal(t, "a1", eng.decision.ApprovalID)
}

func TestStartRunOutlivesClientDisconnect(t *testing.T) {
	eng := &fakeEngine{outcome: questionOutcome()}
	mux := newRunMux(t, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"message":"todo app"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, eng.ctxErr)
}

func TestRunsStopWithBaseContext(t *testing.T) {
	eng := &fakeEngine{outcome: questionOutcome(), waitCancel: true}
	base, cancel := context.WithCancel(context.Background())
	cancel()
	mux := http.NewServeMux()
	NewRunHandler(eng, zaptest.NewLogger(t)).WithBaseContext(base).RegisterRoutes(mux, nil)

	do(mux, http.MethodPost, "/runs", `{"message":"todo app"}`, nil)
	assert.ErrorIs(t, eng.ctxErr, context.Canceled)
}

func TestRecoverRun(t *testing.T) {
	eng := &fakeEngine{outcome: questionOutcome()}
	mux := newRunMux(t, eng, nil)

	rec := do(mux, http.MethodPost, "/runs/run-1/recover", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", eng.runID)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", workflows.ErrRunNotFound, http.StatusNotFound},
		{"not recoverable", workflows.ErrNotRecoverable, http.StatusConflict},
		{"interrupted again", fmt.Errorf("%w at supervisor: %v", workflows.ErrRunInterrupted, context.Canceled), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newRunMux(t, &fakeEngine{err: tt.err}, nil)
			rec := do(mux, http.MethodPost, "/runs/run-1/recover", "", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
