package models

import (
	"context"
	"errors"
	"sort"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// Pipeline stages; used to label metrics and to route scripted replies.
const (
	StageClarify    = "clarify"
	StageBrief      = "research_brief"
	StageSupervisor = "supervisor"
	StageResearch   = "research"
	StageCompress   = "compress"
	StageReport     = "final_report"
	StageToolLoop   = "tool_manager"
	StageSearch     = "web_search"
	StageSummarize  = "summarize_webpage"
)

// ToolSpec describes a tool the model may call
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Schema declares the record expected from a structured-output call
type Schema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"schema"`
}

// ChatRequest is a single model invocation
type ChatRequest struct {
	Stage     string
	Model     string
	MaxTokens int
	Messages  []state.Message
	Tools     []ToolSpec
}

// ChatModel is the language-model collaborator. Implementations may fail;
// callers decide whether to retry.
type ChatModel interface {
	// Generate returns the assistant message, possibly carrying tool calls.
	Generate(ctx context.Context, req ChatRequest) (state.Message, error)
	// GenerateStructured decodes a schema-conforming reply into out.
	GenerateStructured(ctx context.Context, req ChatRequest, schema Schema, out interface{}) error
}

var (
	ErrEmptyResponse    = errors.New("model returned no choices")
	ErrInvalidStructure = errors.New("model output does not match schema")
)

// ObjectSchema builds a JSON schema object with all properties required.
func ObjectSchema(props map[string]interface{}) map[string]interface{} {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
