package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

func TestMCPConfigExpand(t *testing.T) {
	cfg := MCPConfig{Servers: map[string]MCPServerConfig{
		"github": {
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-github", "--token=${GITHUB_TOKEN}"},
			Env:     map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "${GITHUB_TOKEN}"},
		},
	}}
	env := map[string]string{"GITHUB_TOKEN": "ghp_123"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	out, err := cfg.Expand(lookup)
	require.NoError(t, err)
	assert.Equal(t, "--token=ghp_123", out.Servers["github"].Args[2])
	assert.Equal(t, "ghp_123", out.Servers["github"].Env["GITHUB_PERSONAL_ACCESS_TOKEN"])

	delete(env, "GITHUB_TOKEN")
	_, err = cfg.Expand(lookup)
	assert.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")
}

func TestLoadMCPConfigJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANNER_FS_ROOT", "/srv/plans")

	jsonPath := filepath.Join(dir, "mcp.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"mcpServers":{"fs":{"command":"mcp-fs","args":["${PLANNER_FS_ROOT}"]}}}`), 0o644))
	cfg, err := LoadMCPConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/plans"}, cfg.Servers["fs"].Args)

	yamlPath := filepath.Join(dir, "mcp.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("mcpServers:\n  notes:\n    transport: sse\n    url: http://localhost:${NOTES_PORT}/sse\n"), 0o644))
	_, err = LoadMCPConfig(yamlPath)
	assert.ErrorIs(t, err, ErrMissingEnv)
}

func newInProcessConnector(t *testing.T) MCPConnector {
	s := server.NewMCPServer("planner-test", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("save_note",
		mcp.WithDescription("Save a note"),
		mcp.WithString("text", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := req.GetArguments()["text"].(string)
		if text == "" {
			return mcp.NewToolResultError("text is empty"), nil
		}
		return mcp.NewToolResultText("saved: " + text), nil
	})
	return func(ctx context.Context, name string, cfg MCPServerConfig) (MCPSession, error) {
		c, err := client.NewInProcessClient(s)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func TestConnectMCPExposesTools(t *testing.T) {
	ctx := context.Background()
	provider, tools, err := ConnectMCP(ctx,
		MCPConfig{Servers: map[string]MCPServerConfig{"notes": {Command: "unused"}}},
		newInProcessConnector(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer provider.Close()

	require.Len(t, tools, 1)
	spec := tools[0].Spec()
	assert.Equal(t, "save_note", spec.Name)
	assert.Equal(t, "object", spec.Parameters["type"])

	g := NewGateway(zaptest.NewLogger(t), nil, tools...)
	assert.Equal(t, "saved: phase 1", g.Invoke(ctx, state.ToolCall{ID: "1", Name: "save_note", Args: map[string]interface{}{"text": "phase 1"}}))
	assert.Equal(t, "Error executing tool: mcp notes/save_note: text is empty", g.Invoke(ctx, state.ToolCall{ID: "2", Name: "save_note", Args: map[string]interface{}{}}))
}
