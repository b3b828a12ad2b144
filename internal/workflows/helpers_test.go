package workflows

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tools"
)

type staticSource struct{ p *activities.Pipeline }

func (s staticSource) Pipeline(context.Context) (*activities.Pipeline, error) { return s.p, nil }

// newTestPipeline wires real stages over a scripted model, a fake search tool
// and workspace tools rooted at dir.
func newTestPipeline(t *testing.T, model models.ChatModel, dir string) *activities.Pipeline {
	logger := zaptest.NewLogger(t)
	ws, err := tools.NewWorkspace(dir)
	require.NoError(t, err)
	approver, err := policy.NewApprovalPolicy(policy.DefaultConfig(), logger)
	require.NoError(t, err)

	search := tools.FuncTool{
		ToolSpec: models.ToolSpec{Name: tools.ToolWebSearch},
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return fmt.Sprintf("URL: https://example.com/%v", args["query"]), nil
		},
	}
	toolset := &tools.Toolset{
		Research:    tools.NewGateway(logger, nil, search),
		Persistence: tools.NewGateway(logger, nil, ws.Tools()...),
	}
	settings := activities.DefaultSettings()
	settings.RetryBackoff = 0
	return activities.NewPipeline(model, toolset, approver, settings, logger)
}

// scriptResearch scripts one clarifying question and one research round up to
// the final report. Tool loop replies are left to the caller.
func scriptResearch(m *models.ScriptedModel) {
	m.On(models.StageClarify,
		models.Structured(activities.ClarifyWithUser{NeedClarification: true, Question: "Web or mobile?"}),
		models.Structured(activities.ClarifyWithUser{Verification: "A web todo app. Starting research."}),
	)
	m.On(models.StageBrief, models.Structured(activities.ResearchQuestion{ResearchBrief: "I want a web todo app."}))
	m.On(models.StageSupervisor,
		models.Calls(state.ToolCall{ID: "c1", Name: activities.ToolConductResearch, Args: map[string]interface{}{"research_topic": "backend for a todo app"}}),
		models.Text("Research is sufficient."),
	)
	m.On(models.StageResearch,
		models.Calls(state.ToolCall{ID: "s1", Name: tools.ToolWebSearch, Args: map[string]interface{}{"query": "go"}}),
		models.Text("Go fits."),
	)
	m.On(models.StageCompress, models.Text("Use Go [1]\n### Sources\n[1] https://go.dev"))
	m.On(models.StageReport, models.Text("# Project Blueprint: Todo\n## 1. Executive Summary\nA web todo app in Go [1]."))
}

// scriptHappyPath adds a single protected write followed by a closing reply.
func scriptHappyPath(m *models.ScriptedModel) {
	scriptResearch(m)
	m.On(models.StageToolLoop,
		models.Calls(state.ToolCall{ID: "w1", Name: tools.ToolWriteFile, Args: map[string]interface{}{"path": "todo/PLAN.md", "content": "# Plan"}}),
		models.Text("Saved the plan to todo/PLAN.md."),
	)
}
