package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/retry"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/util"
)

// Tool names understood by the supervisor and research loops.
const (
	ToolConductResearch  = "ConductResearch"
	ToolResearchComplete = "ResearchComplete"
)

// NoResearchToolsNote is returned when no search backend is configured.
const NoResearchToolsNote = "No research tools are available; configure a search API to enable research on this topic."

var researchCompleteSpec = models.ToolSpec{
	Name:        ToolResearchComplete,
	Description: "Call this tool to indicate that the research is complete.",
	Parameters:  models.ObjectSchema(map[string]interface{}{}),
}

// ResearchUnit researches a single topic with a bounded THINK/ACT loop and
// compresses the transcript into one note.
type ResearchUnit struct {
	model    models.ChatModel
	gateway  *tools.Gateway
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

func NewResearchUnit(model models.ChatModel, gateway *tools.Gateway, settings Settings, logger *zap.Logger) *ResearchUnit {
	return &ResearchUnit{model: model, gateway: gateway, settings: settings, logger: logger, now: time.Now}
}

// Run never fails: model errors end the loop early and compression failure
// yields an error note that still carries the raw excerpts.
func (u *ResearchUnit) Run(ctx context.Context, topic string) state.CompressedNote {
	logger := u.logger.With(zap.String("topic", truncateTopic(topic)))
	if u.gateway.Len() == 0 {
		logger.Warn("No research tools configured")
		return state.CompressedNote{Text: NoResearchToolsNote}
	}

	date := todayString(u.now())
	conv := state.Conversation{
		state.SystemMessage(researchInstructions(date, u.settings.MaxReactToolCalls)),
		state.UserMessage(topic),
	}
	toolSpecs := append(u.gateway.Specs(), researchCompleteSpec)

	iterations := 0
	for {
		resp, err := u.model.Generate(ctx, models.ChatRequest{
			Stage:     models.StageResearch,
			Model:     u.settings.ResearchModel,
			MaxTokens: u.settings.ResearchMaxTokens,
			Messages:  conv,
			Tools:     toolSpecs,
		})
		iterations++
		if err != nil {
			logger.Warn("Research model call failed, compressing what we have", zap.Error(err))
			break
		}
		conv = append(conv, resp)

		if !resp.HasToolCalls() {
			break
		}
		if hasCall(resp.ToolCalls, ToolResearchComplete) {
			conv = append(conv, closeCalls(resp.ToolCalls, skippedComplete)...)
			break
		}
		if iterations >= u.settings.MaxReactToolCalls {
			logger.Debug("Research tool call budget reached", zap.Int("iterations", iterations))
			conv = append(conv, closeCalls(resp.ToolCalls, skippedBudget)...)
			break
		}

		conv = append(conv, u.act(ctx, resp.ToolCalls)...)
	}

	return u.compress(ctx, conv, date)
}

// act executes every call concurrently through the gateway
func (u *ResearchUnit) act(ctx context.Context, calls []state.ToolCall) []state.Message {
	return u.gateway.InvokeAll(ctx, calls)
}

func (u *ResearchUnit) compress(ctx context.Context, conv state.Conversation, date string) state.CompressedNote {
	raw := rawExcerpts(conv)

	msgs := make([]state.Message, 0, len(conv)+1)
	msgs = append(msgs, state.SystemMessage(compressInstructions(date)))
	msgs = append(msgs, conv[1:]...)
	msgs = append(msgs, state.UserMessage(compressHumanMessage))

	req := models.ChatRequest{
		Stage:     models.StageCompress,
		Model:     u.settings.CompressionModel,
		MaxTokens: u.settings.CompressionMaxTokens,
		Messages:  msgs,
	}
	text, err := retry.Do(ctx, counted(siteCompress, func(ctx context.Context) (string, error) {
		resp, err := u.model.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(resp.Content) == "" {
			return "", models.ErrEmptyResponse
		}
		return resp.Content, nil
	}), u.settings.CompressionAttempts, u.settings.RetryBackoff)
	if err != nil {
		recordExhausted(siteCompress, err)
		u.logger.Warn("Compression failed", zap.Error(err))
		return state.CompressedNote{
			Text:        fmt.Sprintf("Error synthesizing research report: %v", err),
			RawExcerpts: raw,
		}
	}
	return state.CompressedNote{Text: text, RawExcerpts: raw}
}

// rawExcerpts keeps tool outputs and assistant text of a research transcript.
func rawExcerpts(conv state.Conversation) []string {
	var out []string
	for _, m := range conv {
		switch m.Role {
		case state.RoleTool, state.RoleAssistant:
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, m.Content)
			}
		}
	}
	return out
}

const (
	skippedComplete = "Skipped: research was marked complete in the same turn."
	skippedBudget   = "Skipped: the research tool call budget is exhausted."
)

// closeCalls answers every call without running it, so each ID still gets
// exactly one tool message.
func closeCalls(calls []state.ToolCall, reason string) []state.Message {
	out := make([]state.Message, 0, len(calls))
	for _, c := range calls {
		content := reason
		if c.Name == ToolResearchComplete {
			content = "Research marked complete."
		}
		out = append(out, state.ToolMessage(c, content))
	}
	return out
}

func hasCall(calls []state.ToolCall, name string) bool {
	for _, c := range calls {
		if c.Name == name {
			return true
		}
	}
	return false
}

func truncateTopic(topic string) string {
	return util.TruncateString(topic, 80, true)
}
