package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/retry"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

var (
	ErrClarifyFailed = errors.New("clarification failed")
	ErrBriefFailed   = errors.New("research brief generation failed")
)

// ClarifyWithUser is the structured output of the clarification call
type ClarifyWithUser struct {
	NeedClarification bool   `json:"need_clarification"`
	Question          string `json:"question"`
	Verification      string `json:"verification"`
}

// ResearchQuestion is the structured output of the brief call
type ResearchQuestion struct {
	ResearchBrief string `json:"research_brief"`
}

var clarifySchema = models.Schema{
	Name:        "clarify_with_user",
	Description: "Decide whether to ask the user a clarifying question",
	Parameters: models.ObjectSchema(map[string]interface{}{
		"need_clarification": map[string]interface{}{"type": "boolean"},
		"question":           map[string]interface{}{"type": "string"},
		"verification":       map[string]interface{}{"type": "string"},
	}),
}

var briefSchema = models.Schema{
	Name:        "research_question",
	Description: "A standalone first-person research brief",
	Parameters: models.ObjectSchema(map[string]interface{}{
		"research_brief": map[string]interface{}{"type": "string"},
	}),
}

// Clarifier asks at most one question per user turn, then writes the brief
type Clarifier struct {
	model    models.ChatModel
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

func NewClarifier(model models.ChatModel, settings Settings, logger *zap.Logger) *Clarifier {
	return &Clarifier{model: model, settings: settings, logger: logger, now: time.Now}
}

// Clarify decides between asking the user a question and proceeding to the brief.
// A question suspends the run in awaiting_user.
func (c *Clarifier) Clarify(ctx context.Context, msgs state.Conversation) (state.Update, error) {
	if !c.settings.AllowClarification {
		return state.Update{Next: state.NodeWriteBrief}, nil
	}
	if last, ok := msgs.Last(); ok && last.Role == state.RoleAssistant {
		// Our question is still unanswered; never ask twice in a row.
		c.logger.Debug("Last message is ours, skipping clarification")
		return state.Update{Next: state.NodeWriteBrief}, nil
	}

	req := models.ChatRequest{
		Stage:     models.StageClarify,
		Model:     c.settings.ClarificationModel,
		MaxTokens: c.settings.ClarificationMaxTokens,
		Messages:  []state.Message{state.UserMessage(clarifyInstructions(msgs.BufferString(), todayString(c.now())))},
	}
	out, err := retry.Do(ctx, counted(siteClarify, func(ctx context.Context) (ClarifyWithUser, error) {
		var out ClarifyWithUser
		if err := c.model.GenerateStructured(ctx, req, clarifySchema, &out); err != nil {
			return out, err
		}
		if out.NeedClarification && strings.TrimSpace(out.Question) == "" {
			return out, fmt.Errorf("%w: need_clarification without a question", models.ErrInvalidStructure)
		}
		return out, nil
	}), c.settings.MaxStructuredOutputRetries, c.settings.RetryBackoff)
	if err != nil {
		recordExhausted(siteClarify, err)
		return state.Update{}, fmt.Errorf("%w: %w", ErrClarifyFailed, err)
	}

	if out.NeedClarification {
		return state.Update{
			Next:     state.NodeClarify,
			Status:   state.StatusAwaitingUser,
			Messages: []state.Message{state.AssistantMessage(out.Question)},
		}, nil
	}
	update := state.Update{Next: state.NodeWriteBrief}
	if strings.TrimSpace(out.Verification) != "" {
		update.Messages = []state.Message{state.AssistantMessage(out.Verification)}
	}
	return update, nil
}

// WriteBrief turns the conversation into the research brief and seeds the
// supervisor conversation with it.
func (c *Clarifier) WriteBrief(ctx context.Context, msgs state.Conversation) (state.Update, error) {
	now := c.now()
	req := models.ChatRequest{
		Stage:     models.StageBrief,
		Model:     c.settings.ResearchModel,
		MaxTokens: c.settings.ResearchMaxTokens,
		Messages:  []state.Message{state.UserMessage(briefInstructions(msgs.BufferString(), todayString(now)))},
	}
	out, err := retry.Do(ctx, counted(siteBrief, func(ctx context.Context) (ResearchQuestion, error) {
		var out ResearchQuestion
		if err := c.model.GenerateStructured(ctx, req, briefSchema, &out); err != nil {
			return out, err
		}
		if strings.TrimSpace(out.ResearchBrief) == "" {
			return out, fmt.Errorf("%w: empty research_brief", models.ErrInvalidStructure)
		}
		return out, nil
	}), c.settings.MaxStructuredOutputRetries, c.settings.RetryBackoff)
	if err != nil {
		recordExhausted(siteBrief, err)
		return state.Update{}, fmt.Errorf("%w: %w", ErrBriefFailed, err)
	}

	c.logger.Info("Research brief written", zap.Int("length", len(out.ResearchBrief)))
	return state.Update{
		Next:          state.NodeSupervisor,
		ResearchBrief: state.StringPtr(out.ResearchBrief),
		SupervisorMessages: []state.Message{
			state.SystemMessage(supervisorInstructions(todayString(now), c.settings.MaxConcurrentResearchUnits)),
			state.UserMessage(out.ResearchBrief),
		},
	}, nil
}
