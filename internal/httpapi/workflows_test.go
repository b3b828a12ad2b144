package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

func newWorkflowMux(t *testing.T, c client.Client) *http.ServeMux {
	mux := http.NewServeMux()
	NewWorkflowHandler(c, "planner", zaptest.NewLogger(t)).RegisterRoutes(mux, nil)
	return mux
}

func encodedValue(t *testing.T, v any) converter.EncodedValue {
	payloads, err := converter.GetDefaultDataConverter().ToPayloads(v)
	require.NoError(t, err)
	return client.NewValue(payloads)
}

func TestWorkflowStart(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("planner-abc")
	c.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool { return o.TaskQueue == "planner" }),
		mock.Anything,
		mock.MatchedBy(func(in workflows.PlanningInput) bool { return in.Message == "todo app" && in.RunID != "" }),
	).Return(run, nil)

	rec := do(newWorkflowMux(t, c), http.MethodPost, "/workflows", `{"message":"todo app"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "planner-abc", body["workflow_id"])
	c.AssertExpectations(t)
}

func TestWorkflowSignals(t *testing.T) {
	c := &mocks.Client{}
	c.On("SignalWorkflow", mock.Anything, "wf-1", "", workflows.SignalUserReply, workflows.UserReply{Message: "web"}).Return(nil)
	c.On("SignalWorkflow", mock.Anything, "wf-1", "", workflows.SignalToolReview,
		state.ResumeDecision{Action: state.ResumeFeedback, Feedback: "wrong path"}).Return(nil)
	mux := newWorkflowMux(t, c)

	rec := do(mux, http.MethodPost, "/workflows/wf-1/messages", `{"message":"web"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(mux, http.MethodPost, "/workflows/wf-1/resume", `{"action":"feedback","feedback":"wrong path"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Malformed decisions never reach Temporal.
	rec = do(mux, http.MethodPost, "/workflows/wf-1/resume", `{"action":"feedback"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	c.AssertExpectations(t)
}

func TestWorkflowSignalFailure(t *testing.T) {
	c := &mocks.Client{}
	c.On("SignalWorkflow", mock.Anything, "wf-1", "", workflows.SignalUserReply, mock.Anything).Return(errors.New("not found"))
	rec := do(newWorkflowMux(t, c), http.MethodPost, "/workflows/wf-1/messages", `{"message":"web"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWorkflowInterruptQuery(t *testing.T) {
	c := &mocks.Client{}
	intr := &state.InterruptRequest{ID: "i-1", PendingToolCalls: []state.ToolCall{{ID: "w1", Name: "write_file"}}}
	c.On("QueryWorkflow", mock.Anything, "wf-1", "", workflows.QueryPendingInterrupt).Return(encodedValue(t, intr), nil).Once()
	c.On("QueryWorkflow", mock.Anything, "wf-2", "", workflows.QueryPendingInterrupt).Return(encodedValue(t, nil), nil).Once()
	mux := newWorkflowMux(t, c)

	rec := do(mux, http.MethodGet, "/workflows/wf-1/interrupt", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got state.InterruptRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "i-1", got.ID)

	rec = do(mux, http.MethodGet, "/workflows/wf-2/interrupt", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	c.AssertExpectations(t)
}
