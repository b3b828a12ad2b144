package activities

import "time"

// Settings are the pipeline knobs shared by every stage
type Settings struct {
	MaxStructuredOutputRetries int           `json:"max_structured_output_retries"`
	AllowClarification         bool          `json:"allow_clarification"`
	MaxConcurrentResearchUnits int           `json:"max_concurrent_research_units"`
	MaxResearcherIterations    int           `json:"max_researcher_iterations"`
	MaxReactToolCalls          int           `json:"max_react_tool_calls"`
	CompressionAttempts        int           `json:"compression_attempts"`
	ReportMaxRetries           int           `json:"report_max_retries"`
	RetryBackoff               time.Duration `json:"retry_backoff"`
	MaxToolLoopIterations      int           `json:"max_tool_loop_iterations"`

	ClarificationModel     string `json:"clarification_model"`
	ClarificationMaxTokens int    `json:"clarification_max_tokens"`
	ResearchModel          string `json:"research_model"`
	ResearchMaxTokens      int    `json:"research_max_tokens"`
	CompressionModel       string `json:"compression_model"`
	CompressionMaxTokens   int    `json:"compression_max_tokens"`
	FinalReportModel       string `json:"final_report_model"`
	FinalReportMaxTokens   int    `json:"final_report_max_tokens"`
}

// DefaultSettings mirrors the documented configuration defaults
func DefaultSettings() Settings {
	return Settings{
		MaxStructuredOutputRetries: 3,
		AllowClarification:         true,
		MaxConcurrentResearchUnits: 3,
		MaxResearcherIterations:    3,
		MaxReactToolCalls:          5,
		CompressionAttempts:        3,
		ReportMaxRetries:           3,
		RetryBackoff:               time.Second,
		MaxToolLoopIterations:      10,

		ClarificationModel:     "openai:gpt-4.1",
		ClarificationMaxTokens: 10000,
		ResearchModel:          "openai:gpt-4o",
		ResearchMaxTokens:      10000,
		CompressionModel:       "openai:gpt-4o-mini",
		CompressionMaxTokens:   10000,
		FinalReportModel:       "openai:gpt-4.1",
		FinalReportMaxTokens:   10000,
	}
}

func todayString(now time.Time) string {
	return now.Format("Mon Jan 2, 2006")
}
