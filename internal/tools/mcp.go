package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
)

var ErrMissingEnv = errors.New("environment variable not set")

// MCPServerConfig describes one MCP server connection
type MCPServerConfig struct {
	Command   string            `json:"command,omitempty" yaml:"command,omitempty" mapstructure:"command"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
	Transport string            `json:"transport,omitempty" yaml:"transport,omitempty" mapstructure:"transport"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
}

// MCPConfig is the mcp.yaml / mcp.json document
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty" mapstructure:"mcpServers"`
}

// LoadMCPConfig reads a YAML or JSON MCP config and expands ${VAR}
// references from the process environment.
func LoadMCPConfig(path string) (MCPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MCPConfig{}, fmt.Errorf("read mcp config: %w", err)
	}
	var cfg MCPConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MCPConfig{}, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	return cfg.Expand(os.LookupEnv)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandString(s string, lookup func(string) (string, bool)) (string, error) {
	var missing error
	out := envRef.ReplaceAllStringFunc(s, func(m string) string {
		name := envRef.FindStringSubmatch(m)[1]
		v, ok := lookup(name)
		if !ok {
			if missing == nil {
				missing = fmt.Errorf("%w: %s", ErrMissingEnv, name)
			}
			return m
		}
		return v
	})
	return out, missing
}

// Expand substitutes ${VAR} in command, args, env values and url.
// A reference to an unset variable is an error naming it.
func (c MCPConfig) Expand(lookup func(string) (string, bool)) (MCPConfig, error) {
	out := MCPConfig{Servers: make(map[string]MCPServerConfig, len(c.Servers))}
	for name, s := range c.Servers {
		var err error
		exp := MCPServerConfig{Transport: s.Transport}
		if exp.Command, err = expandString(s.Command, lookup); err != nil {
			return MCPConfig{}, fmt.Errorf("mcp server %s: %w", name, err)
		}
		if exp.URL, err = expandString(s.URL, lookup); err != nil {
			return MCPConfig{}, fmt.Errorf("mcp server %s: %w", name, err)
		}
		for _, a := range s.Args {
			v, err := expandString(a, lookup)
			if err != nil {
				return MCPConfig{}, fmt.Errorf("mcp server %s: %w", name, err)
			}
			exp.Args = append(exp.Args, v)
		}
		if len(s.Env) > 0 {
			exp.Env = make(map[string]string, len(s.Env))
			for k, v := range s.Env {
				ev, err := expandString(v, lookup)
				if err != nil {
					return MCPConfig{}, fmt.Errorf("mcp server %s: %w", name, err)
				}
				exp.Env[k] = ev
			}
		}
		out.Servers[name] = exp
	}
	return out, nil
}

// MCPSession is the subset of the mcp-go client used here
type MCPSession interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPConnector opens a session to one configured server
type MCPConnector func(ctx context.Context, name string, cfg MCPServerConfig) (MCPSession, error)

// DialMCP connects over stdio, SSE or streamable HTTP.
func DialMCP(ctx context.Context, name string, cfg MCPServerConfig) (MCPSession, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp server %s: command is required for stdio", name)
		}
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		return client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case "sse":
		c, err := client.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start sse client: %w", err)
		}
		return c, nil
	case "http", "streamable_http":
		c, err := client.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("mcp server %s: unsupported transport %q", name, cfg.Transport)
	}
}

// MCPProvider owns the sessions backing MCP tools
type MCPProvider struct {
	sessions map[string]MCPSession
	logger   *zap.Logger
}

// ConnectMCP initializes every configured server and returns its tools.
// Servers are visited in name order; a duplicate tool name keeps the first.
func ConnectMCP(ctx context.Context, cfg MCPConfig, connect MCPConnector, logger *zap.Logger) (*MCPProvider, []Tool, error) {
	if connect == nil {
		connect = DialMCP
	}
	p := &MCPProvider{sessions: make(map[string]MCPSession), logger: logger}
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var tools []Tool
	seen := make(map[string]bool)
	for _, name := range names {
		session, err := connect(ctx, name, cfg.Servers[name])
		if err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("connect mcp server %s: %w", name, err)
		}
		p.sessions[name] = session

		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{Name: "project-planner", Version: "1.0.0"}
		if _, err := session.Initialize(ctx, initReq); err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("initialize mcp server %s: %w", name, err)
		}
		listed, err := session.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("list tools of mcp server %s: %w", name, err)
		}
		for _, t := range listed.Tools {
			if seen[t.Name] {
				logger.Warn("Duplicate MCP tool name, keeping first", zap.String("tool", t.Name), zap.String("server", name))
				continue
			}
			seen[t.Name] = true
			tools = append(tools, &mcpTool{server: name, session: session, tool: t})
		}
		logger.Info("Loaded MCP tools", zap.String("server", name), zap.Int("count", len(listed.Tools)))
	}
	return p, tools, nil
}

// Close terminates every session
func (p *MCPProvider) Close() {
	if p == nil {
		return
	}
	for name, s := range p.sessions {
		if err := s.Close(); err != nil {
			p.logger.Warn("Failed to close MCP session", zap.String("server", name), zap.Error(err))
		}
	}
	p.sessions = map[string]MCPSession{}
}

type mcpTool struct {
	server  string
	session MCPSession
	tool    mcp.Tool
}

func (t *mcpTool) Spec() models.ToolSpec {
	params := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	if raw, err := json.Marshal(t.tool); err == nil {
		var decoded struct {
			InputSchema map[string]interface{} `json:"inputSchema"`
		}
		if json.Unmarshal(raw, &decoded) == nil && decoded.InputSchema != nil {
			params = decoded.InputSchema
		}
	}
	return models.ToolSpec{Name: t.tool.Name, Description: t.tool.Description, Parameters: params}
}

func (t *mcpTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.tool.Name
	req.Params.Arguments = args
	res, err := t.session.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp %s/%s: %w", t.server, t.tool.Name, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("mcp %s/%s: %s", t.server, t.tool.Name, text)
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
