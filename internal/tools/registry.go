package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
)

// ConnectionConfig is everything that decides which tools exist. Toolsets
// are cached by its hash.
type ConnectionConfig struct {
	SearchAPI        string    `json:"search_api"`
	TavilyAPIKey     string    `json:"tavily_api_key,omitempty"`
	TavilyBaseURL    string    `json:"tavily_base_url,omitempty"`
	SearchModel      string    `json:"search_model,omitempty"`
	SearchMaxResults int       `json:"search_max_results,omitempty"`
	SummaryModel     string    `json:"summary_model,omitempty"`
	SummaryMaxTokens int       `json:"summary_max_tokens,omitempty"`
	WorkspaceDir     string    `json:"workspace_dir,omitempty"`
	MCP              MCPConfig `json:"mcp"`
}

// Hash is a stable digest of the config
func (c ConnectionConfig) Hash() string {
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Toolset groups the gateways handed to the pipeline
type Toolset struct {
	// Research holds the search tools bound by research units.
	Research *Gateway
	// Persistence holds workspace and MCP tools bound by the tool loop.
	Persistence *Gateway

	mcp *MCPProvider
}

func (t *Toolset) close() {
	if t != nil {
		t.mcp.Close()
	}
}

// Registry builds toolsets on demand and caches them per connection config
type Registry struct {
	model      models.ChatModel
	httpClient *http.Client
	breakers   *circuitbreaker.Group
	breakerCfg circuitbreaker.Settings
	connect    MCPConnector
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]*Toolset
}

// RegistryOption customizes a Registry
type RegistryOption func(*Registry)

// WithMCPConnector replaces the MCP dialer
func WithMCPConnector(c MCPConnector) RegistryOption {
	return func(r *Registry) { r.connect = c }
}

// WithHTTPClient sets the client used by HTTP-backed tools
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = c }
}

func NewRegistry(model models.ChatModel, breaker circuitbreaker.Settings, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second, Transport: interceptors.NewRunRoundTripper(nil)},
		breakerCfg: breaker,
		breakers:   circuitbreaker.NewGroup("tools", breaker.ToConfig(), logger),
		connect:    DialMCP,
		logger:     logger,
		cache:      make(map[string]*Toolset),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Toolset returns the cached toolset for cfg, building it on first use.
func (r *Registry) Toolset(ctx context.Context, cfg ConnectionConfig) (*Toolset, error) {
	key := cfg.Hash()
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.cache[key]; ok {
		return ts, nil
	}
	ts, err := r.build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.cache[key] = ts
	r.logger.Info("Built toolset",
		zap.String("search_api", cfg.SearchAPI),
		zap.Int("research_tools", ts.Research.Len()),
		zap.Int("persistence_tools", ts.Persistence.Len()),
	)
	return ts, nil
}

// Invalidate drops every cached toolset and closes MCP sessions.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, ts := range r.cache {
		ts.close()
		delete(r.cache, k)
	}
	r.logger.Info("Tool registry cache invalidated")
}

// Close releases all sessions
func (r *Registry) Close() { r.Invalidate() }

func (r *Registry) build(ctx context.Context, cfg ConnectionConfig) (*Toolset, error) {
	var research []Tool
	switch cfg.SearchAPI {
	case SearchTavily:
		var summarizer *Summarizer
		if cfg.SummaryModel != "" && r.model != nil {
			summarizer = &Summarizer{Model: r.model, ModelName: cfg.SummaryModel, MaxTokens: cfg.SummaryMaxTokens}
		}
		research = append(research, NewTavilySearch(cfg.TavilyBaseURL, cfg.TavilyAPIKey, cfg.SearchMaxResults, r.httpClient, r.breakerCfg, summarizer, r.logger))
	case SearchOpenAI:
		if r.model == nil {
			return nil, fmt.Errorf("search_api %q requires a model client", cfg.SearchAPI)
		}
		research = append(research, NewModelSearch(r.model, cfg.SearchModel, cfg.SummaryMaxTokens))
	case SearchNone, "":
	default:
		return nil, fmt.Errorf("unknown search_api %q", cfg.SearchAPI)
	}

	var persistence []Tool
	if cfg.WorkspaceDir != "" {
		ws, err := NewWorkspace(cfg.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		persistence = append(persistence, ws.Tools()...)
	}

	var provider *MCPProvider
	if len(cfg.MCP.Servers) > 0 {
		p, mcpTools, err := ConnectMCP(ctx, cfg.MCP, r.connect, r.logger)
		if err != nil {
			return nil, err
		}
		provider = p
		persistence = append(persistence, mcpTools...)
	}

	return &Toolset{
		Research:    NewGateway(r.logger, r.breakers, research...),
		Persistence: NewGateway(r.logger, r.breakers, persistence...),
		mcp:         provider,
	}, nil
}
