package formatting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

func TestEnsureSectionsFillsMissing(t *testing.T) {
	report := "# Project Blueprint: Todo\n## 1. Executive Summary\nA todo app.\n## 5. Key Best Practices\nTest it."

	out := EnsureSections(report, nil)

	assert.Contains(t, out, "## 1. Executive Summary\nA todo app.")
	assert.Contains(t, out, "## 2. Technology Stack Recommendation\nN/A")
	assert.Contains(t, out, "## 3. Project Structure & Architectural Patterns\nN/A")
	assert.Contains(t, out, "## 4. Phased Development Plan (MVP to Full Launch)\nN/A")
	assert.Equal(t, 1, strings.Count(out, "Best Practices"))
	assert.True(t, strings.HasSuffix(out, "### Sources\nN/A"))
}

func TestEnsureSectionsKeepsModelSources(t *testing.T) {
	report := strings.Join([]string{
		"# Project Blueprint: Lang",
		"## 1. Executive Summary",
		"Use Go [1]. Tutorials live at https://go.dev/doc [2].",
		"## 2. Technology Stack Recommendation",
		"## 3. Project Structure & Architectural Patterns",
		"## 4. Phased Development Plan",
		"## 5. Key Best Practices",
		"### Sources",
		"[1] Go spec: https://go.dev/ref/spec",
		"[2] Go docs: https://go.dev/doc",
	}, "\n")
	raw := []string{"URL: https://uncited.example.com/a\nURL: https://uncited.example.com/b"}

	out := EnsureSections(report, raw)

	assert.Equal(t, 1, strings.Count(out, "### Sources"))
	assert.True(t, strings.HasSuffix(out, "### Sources\n[1] Go spec: https://go.dev/ref/spec\n[2] Go docs: https://go.dev/doc"), out)
	assert.NotContains(t, out, "uncited.example.com")
	assert.NotContains(t, out, "N/A")
}

func TestEnsureSectionsBuildsMissingSources(t *testing.T) {
	tests := []struct {
		name    string
		sources string
	}{
		{"no section", ""},
		{"empty section", "\n### Sources\n"},
		{"placeholder section", "\n## Sources\nN/A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := "# Plan\n## 1. Executive Summary\nSee https://go.dev/doc for details." + tt.sources
			raw := []string{"URL: https://redis.io/docs\nURL: https://go.dev/doc"}

			out := EnsureSections(report, raw)

			assert.Equal(t, 1, strings.Count(strings.ToLower(out), "sources\n"))
			assert.True(t, strings.HasSuffix(out, "### Sources\n[1] https://go.dev/doc\n[2] https://redis.io/docs"), out)
		})
	}
}

func TestEnsureSectionsEmpty(t *testing.T) {
	assert.Equal(t, "", EnsureSections("", []string{"https://example.com"}))
}

func TestDescribeCoversEveryNode(t *testing.T) {
	for _, kind := range state.AllNodes {
		assert.NotEmpty(t, Describe(kind, state.Update{}), kind.String())
	}
	assert.Equal(t, "node(99)", Describe(state.NodeKind(99), state.Update{}))

	u := state.Update{Interrupt: &state.InterruptRequest{PendingToolCalls: []state.ToolCall{{ID: "a"}, {ID: "b"}}}}
	assert.Equal(t, "Waiting for approval of 2 tool call(s)", Describe(state.NodeHumanGate, u))

	q := state.Update{Status: state.StatusAwaitingUser}
	assert.Equal(t, "Asked a clarifying question", Describe(state.NodeClarify, q))
}
