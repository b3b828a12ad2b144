package activities

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/retry"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// ReportFailedText replaces the report when every draft attempt failed.
const ReportFailedText = "Error generating final report: Maximum retries exceeded"

// ReportWriter drafts the final project plan from the research notes
type ReportWriter struct {
	model    models.ChatModel
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

func NewReportWriter(model models.ChatModel, settings Settings, logger *zap.Logger) *ReportWriter {
	return &ReportWriter{model: model, settings: settings, logger: logger, now: time.Now}
}

// Draft makes up to ReportMaxRetries+1 attempts and returns the report along
// with the number of model calls made. It never fails.
func (w *ReportWriter) Draft(ctx context.Context, brief string, notes []string) (string, int) {
	req := models.ChatRequest{
		Stage:     models.StageReport,
		Model:     w.settings.FinalReportModel,
		MaxTokens: w.settings.FinalReportMaxTokens,
		Messages: []state.Message{
			state.UserMessage(reportInstructions(brief, notes, todayString(w.now()))),
		},
	}

	var calls int32
	report, err := retry.Do(ctx, counted(siteReport, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		resp, err := w.model.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(resp.Content) == "" {
			return "", models.ErrEmptyResponse
		}
		return resp.Content, nil
	}), w.settings.ReportMaxRetries+1, w.settings.RetryBackoff)
	n := int(atomic.LoadInt32(&calls))
	if err != nil {
		recordExhausted(siteReport, err)
		w.logger.Error("Final report generation failed", zap.Int("calls", n), zap.Error(err))
		return ReportFailedText, n
	}
	return report, n
}

// Write drafts the report for a run and seeds the tool-manager conversation with it.
func (w *ReportWriter) Write(ctx context.Context, st *state.RunState) state.Update {
	report, calls := w.Draft(ctx, st.ResearchBrief, st.Notes)
	if report != ReportFailedText {
		report = formatting.EnsureSections(report, st.RawNotes)
	}
	w.logger.Info("Final report drafted",
		zap.String("run_id", st.RunID),
		zap.Int("calls", calls),
		zap.Int("length", len(report)),
	)
	return state.Update{
		Next:        state.NodeToolPropose,
		FinalReport: state.StringPtr(report),
		Messages:    []state.Message{state.AssistantMessage(report)},
		ToolMessages: []state.Message{
			state.SystemMessage(toolManagerPrompt),
			state.UserMessage(report),
		},
	}
}
