package activities

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// Researcher produces one compressed note per topic. ResearchUnit is the
// production implementation.
type Researcher interface {
	Run(ctx context.Context, topic string) state.CompressedNote
}

var conductResearchSpec = models.ToolSpec{
	Name:        ToolConductResearch,
	Description: "Delegate research on one standalone, fully described topic to a dedicated researcher.",
	Parameters: models.ObjectSchema(map[string]interface{}{
		"research_topic": map[string]interface{}{
			"type":        "string",
			"description": "The topic to research. Should be a single topic described in high detail (at least a paragraph).",
		},
	}),
}

// Supervisor runs DISPATCH/AWAIT rounds over its own sub-conversation
type Supervisor struct {
	model      models.ChatModel
	researcher Researcher
	settings   Settings
	logger     *zap.Logger
}

func NewSupervisor(model models.ChatModel, researcher Researcher, settings Settings, logger *zap.Logger) *Supervisor {
	return &Supervisor{model: model, researcher: researcher, settings: settings, logger: logger}
}

// OverflowMessage is the tool message for research requests beyond the per-round limit
func OverflowMessage(limit int) string {
	return fmt.Sprintf("Error: exceeded the maximum of %d concurrent research units per round; resubmit with fewer ConductResearch calls", limit)
}

func ignoredMessage(name string) string {
	return fmt.Sprintf("Ignored: %s is not executed in a round that also requests research.", name)
}

// Run loops until the round cap, a response without tool calls, a lone
// ResearchComplete, or a failed dispatch. It never returns an error.
func (s *Supervisor) Run(ctx context.Context, st *state.RunState) state.Update {
	conv := st.SupervisorMessages.Clone()
	start := len(conv)
	iterations := st.ResearchIterations
	var raw []string
	logger := s.logger.With(zap.String("run_id", st.RunID))
	tools := []models.ToolSpec{conductResearchSpec, researchCompleteSpec}

	var closing []state.Message
	for {
		resp, err := s.model.Generate(ctx, models.ChatRequest{
			Stage:     models.StageSupervisor,
			Model:     s.settings.ResearchModel,
			MaxTokens: s.settings.ResearchMaxTokens,
			Messages:  conv,
			Tools:     tools,
		})
		if err != nil {
			metrics.SupervisorDispatchFailures.Inc()
			logger.Warn("Supervisor dispatch failed, continuing with partial notes",
				zap.Int("round", iterations), zap.Error(err))
			break
		}
		conv = append(conv, resp)

		if iterations >= s.settings.MaxResearcherIterations {
			logger.Info("Research round cap reached", zap.Int("rounds", iterations))
			closing = closeSupervisorCalls(resp.ToolCalls, "Not executed: the research round limit was reached.")
			break
		}
		if !resp.HasToolCalls() {
			break
		}
		if onlyResearchComplete(resp.ToolCalls) {
			closing = closeSupervisorCalls(resp.ToolCalls, "Research complete.")
			break
		}

		msgs, notesRaw := s.round(ctx, resp.ToolCalls, logger)
		conv = append(conv, msgs...)
		raw = append(raw, notesRaw...)
		iterations++
	}

	notes := conv.ToolContents()
	metrics.SupervisorRounds.Observe(float64(iterations - st.ResearchIterations))

	appended := append(append([]state.Message{}, conv[start:]...), closing...)
	return state.Update{
		Next:               state.NodeFinalReport,
		SupervisorMessages: appended,
		Notes:              notes,
		RawNotes:           raw,
		ResearchIterations: state.IntPtr(iterations),
	}
}

// round answers every call of one dispatch, launching at most
// MaxConcurrentResearchUnits researchers in parallel.
func (s *Supervisor) round(ctx context.Context, calls []state.ToolCall, logger *zap.Logger) ([]state.Message, []string) {
	limit := s.settings.MaxConcurrentResearchUnits
	msgs := make([]state.Message, len(calls))

	var launch []int
	accepted := 0
	for i, c := range calls {
		switch {
		case c.Name != ToolConductResearch:
			msgs[i] = state.ToolMessage(c, ignoredMessage(c.Name))
		case strings.TrimSpace(c.ArgString("research_topic")) == "":
			msgs[i] = state.ToolMessage(c, "Error: ConductResearch requires a non-empty research_topic")
		case accepted >= limit:
			msgs[i] = state.ToolMessage(c, OverflowMessage(limit))
			metrics.ResearchUnitsRejected.Inc()
		default:
			launch = append(launch, i)
			accepted++
		}
	}

	notes := make([]state.CompressedNote, len(launch))
	var wg sync.WaitGroup
	for j, idx := range launch {
		wg.Add(1)
		go func(j int, topic string) {
			defer wg.Done()
			notes[j] = s.researcher.Run(ctx, topic)
		}(j, calls[idx].ArgString("research_topic"))
	}
	wg.Wait()
	metrics.ResearchUnitsLaunched.Add(float64(len(launch)))
	logger.Info("Research round finished",
		zap.Int("requested", len(calls)),
		zap.Int("launched", len(launch)),
	)

	var raw []string
	for j, idx := range launch {
		msgs[idx] = state.ToolMessage(calls[idx], notes[j].Text)
		raw = append(raw, notes[j].RawExcerpts...)
	}
	return msgs, raw
}

func onlyResearchComplete(calls []state.ToolCall) bool {
	for _, c := range calls {
		if c.Name != ToolResearchComplete {
			return false
		}
	}
	return len(calls) > 0
}

func closeSupervisorCalls(calls []state.ToolCall, content string) []state.Message {
	out := make([]state.Message, 0, len(calls))
	for _, c := range calls {
		out = append(out, state.ToolMessage(c, content))
	}
	return out
}
