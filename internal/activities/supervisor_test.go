package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

func supervisorState() *state.RunState {
	st := state.NewRunState("run-sup", "idea", time.Now())
	st.ResearchBrief = "I want a todo app"
	st.SupervisorMessages = state.Conversation{
		state.SystemMessage("supervisor"),
		state.UserMessage(st.ResearchBrief),
	}
	return st
}

func TestSupervisorOverflow(t *testing.T) {
	calls := make([]state.ToolCall, 5)
	for i := range calls {
		calls[i] = researchCall(fmt.Sprintf("c%d", i+1), fmt.Sprintf("t%d", i+1))
	}
	model := models.NewScriptedModel().On(models.StageSupervisor,
		models.Calls(calls...),
		models.Calls(toolCall("done", ToolResearchComplete, nil)),
	)
	researcher := &fakeResearcher{}
	sup := NewSupervisor(model, researcher, testSettings(), zaptest.NewLogger(t))
	rejectedBefore := testutil.ToFloat64(metrics.ResearchUnitsRejected)

	u := sup.Run(context.Background(), supervisorState())

	assert.Equal(t, state.NodeFinalReport, u.Next)
	assert.Equal(t, 3, researcher.calls())
	assert.LessOrEqual(t, researcher.maxSeen, int32(3))
	require.NotNil(t, u.ResearchIterations)
	assert.Equal(t, 1, *u.ResearchIterations)

	require.Len(t, u.Notes, 5)
	assert.Equal(t, []string{"note:t1", "note:t2", "note:t3"}, u.Notes[:3])
	for _, n := range u.Notes[3:] {
		assert.Equal(t, OverflowMessage(3), n)
		assert.Contains(t, n, "maximum of 3")
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ResearchUnitsRejected)-rejectedBefore)
	assert.Len(t, u.RawNotes, 3)
	assertToolIDsRoundTrip(t, u.SupervisorMessages)
}

func TestSupervisorRoundCap(t *testing.T) {
	model := models.NewScriptedModel().Handle(models.StageSupervisor, func(req models.ChatRequest) models.Reply {
		return models.Calls(researchCall(fmt.Sprintf("c%d", len(req.Messages)), "more"))
	})
	researcher := &fakeResearcher{}
	sup := NewSupervisor(model, researcher, testSettings(), zaptest.NewLogger(t))

	u := sup.Run(context.Background(), supervisorState())

	require.NotNil(t, u.ResearchIterations)
	assert.Equal(t, 3, *u.ResearchIterations)
	assert.Equal(t, 3, researcher.calls())
	assert.Equal(t, 4, model.CallCount(models.StageSupervisor))
	assert.Len(t, u.Notes, 3)
	assertToolIDsRoundTrip(t, u.SupervisorMessages)
}

func TestSupervisorStopsWithoutToolCalls(t *testing.T) {
	model := models.NewScriptedModel().On(models.StageSupervisor, models.Text("nothing to research"))
	researcher := &fakeResearcher{}
	sup := NewSupervisor(model, researcher, testSettings(), zaptest.NewLogger(t))

	u := sup.Run(context.Background(), supervisorState())

	assert.Equal(t, state.NodeFinalReport, u.Next)
	assert.Equal(t, 0, *u.ResearchIterations)
	assert.Empty(t, u.Notes)
	assert.Len(t, u.SupervisorMessages, 1)
}

func TestSupervisorIgnoresMixedCalls(t *testing.T) {
	model := models.NewScriptedModel().On(models.StageSupervisor,
		models.Calls(researchCall("c1", "auth"), toolCall("rc", ToolResearchComplete, nil)),
		models.Text("done"),
	)
	sup := NewSupervisor(model, &fakeResearcher{}, testSettings(), zaptest.NewLogger(t))

	u := sup.Run(context.Background(), supervisorState())

	require.Len(t, u.Notes, 2)
	assert.Equal(t, "note:auth", u.Notes[0])
	assert.Contains(t, u.Notes[1], "Ignored: ResearchComplete")
}

func TestSupervisorDispatchFailureKeepsPartialNotes(t *testing.T) {
	model := models.NewScriptedModel().On(models.StageSupervisor,
		models.Calls(researchCall("c1", "frontend")),
		models.Fail(errors.New("model unavailable")),
	)
	before := testutil.ToFloat64(metrics.SupervisorDispatchFailures)
	sup := NewSupervisor(model, &fakeResearcher{}, testSettings(), zaptest.NewLogger(t))

	u := sup.Run(context.Background(), supervisorState())

	assert.Equal(t, state.NodeFinalReport, u.Next)
	assert.Equal(t, []string{"note:frontend"}, u.Notes)
	assert.Equal(t, 1, *u.ResearchIterations)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SupervisorDispatchFailures)-before)
}
