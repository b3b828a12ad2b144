package workflows

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

type PlanningWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env   *testsuite.TestWorkflowEnvironment
	model *models.ScriptedModel
	dir   string
}

func (s *PlanningWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.model = models.NewScriptedModel()
	s.dir = s.T().TempDir()
	pipeline := newTestPipeline(s.T(), s.model, s.dir)
	s.env.RegisterWorkflow(PlanningWorkflow)
	s.env.RegisterActivity(activities.NewActivities(staticSource{pipeline}, zaptest.NewLogger(s.T())))
}

func (s *PlanningWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *PlanningWorkflowTestSuite) pendingInterrupt() *state.InterruptRequest {
	val, err := s.env.QueryWorkflow(QueryPendingInterrupt)
	if !assert.NoError(s.T(), err) {
		return nil
	}
	var intr *state.InterruptRequest
	assert.NoError(s.T(), val.Get(&intr))
	return intr
}

func (s *PlanningWorkflowTestSuite) Test_QuestionThenApproval() {
	scriptHappyPath(s.model)

	s.env.RegisterDelayedCallback(func() {
		assert.Nil(s.T(), s.pendingInterrupt())
		s.env.SignalWorkflow(SignalUserReply, UserReply{Message: "web"})
	}, time.Minute)

	s.env.RegisterDelayedCallback(func() {
		intr := s.pendingInterrupt()
		if assert.NotNil(s.T(), intr) {
			assert.Equal(s.T(), "w1", intr.PendingToolCalls[0].ID)
		}
		// A review for another interrupt is rejected and the workflow keeps waiting.
		s.env.SignalWorkflow(SignalToolReview, state.ResumeDecision{Action: state.ResumeAccept, ApprovalID: "stale"})
	}, 2*time.Minute)

	s.env.RegisterDelayedCallback(func() {
		intr := s.pendingInterrupt()
		if assert.NotNil(s.T(), intr) {
			s.env.SignalWorkflow(SignalToolReview, state.ResumeDecision{Action: state.ResumeAccept, ApprovalID: intr.ID})
		}
	}, 3*time.Minute)

	s.env.ExecuteWorkflow(PlanningWorkflow, PlanningInput{RunID: "run-wf", Message: "I want to build a todo app"})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result *state.RunState
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(state.StatusDone, result.Status)
	s.Equal("I want a web todo app.", result.ResearchBrief)
	s.Nil(result.PendingInterrupt)
	s.Equal(2, result.ToolLoopIterations)

	b, err := os.ReadFile(filepath.Join(s.dir, "todo", "PLAN.md"))
	s.NoError(err)
	s.Equal("# Plan", string(b))
}

func (s *PlanningWorkflowTestSuite) Test_ClarifyFailureFailsWorkflow() {
	s.model.On(models.StageClarify, models.Fail(assert.AnError))

	s.env.ExecuteWorkflow(PlanningWorkflow, PlanningInput{RunID: "run-fail", Message: "app"})

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Error(err)
	s.Contains(err.Error(), "clarification failed")
	// Non-retryable: the three internal attempts happen once.
	s.Equal(activities.DefaultSettings().MaxStructuredOutputRetries, s.model.CallCount(models.StageClarify))
}

func TestPlanningWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(PlanningWorkflowTestSuite))
}
