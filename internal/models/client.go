package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/util"
)

// ClientConfig is the llm section of the service config
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	// ProviderBaseURLs routes "provider:model" refs to other OpenAI-compatible endpoints.
	ProviderBaseURLs map[string]string `mapstructure:"provider_base_urls"`
}

// OpenAIClient speaks the OpenAI chat completions protocol. Every request goes
// through the rate limiter and a circuit breaker.
type OpenAIClient struct {
	cfg     ClientConfig
	http    *circuitbreaker.HTTPWrapper
	limiter *ratecontrol.Limiter
	logger  *zap.Logger
}

func NewOpenAIClient(cfg ClientConfig, limiter *ratecontrol.Limiter, breaker circuitbreaker.Settings, logger *zap.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	client := &http.Client{Timeout: cfg.Timeout, Transport: interceptors.NewRunRoundTripper(nil)}
	return &OpenAIClient{
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapper(client, "chat-completions", "models", breaker, logger),
		limiter: limiter,
		logger:  logger,
	}
}

// BreakerState exposes the breaker for health checks
func (c *OpenAIClient) BreakerState() circuitbreaker.State { return c.http.State() }

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string   `json:"type"`
	Function ToolSpec `json:"function"`
}

type wireJSONSchema struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
	Strict bool                   `json:"strict"`
}

type wireResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *wireJSONSchema `json:"json_schema,omitempty"`
}

type chatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []wireMessage       `json:"messages"`
	Tools          []wireTool          `json:"tools,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *wireResponseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Generate(ctx context.Context, req ChatRequest) (state.Message, error) {
	return c.complete(ctx, req, nil)
}

func (c *OpenAIClient) GenerateStructured(ctx context.Context, req ChatRequest, schema Schema, out interface{}) error {
	req.Tools = nil
	format := &wireResponseFormat{
		Type:       "json_schema",
		JSONSchema: &wireJSONSchema{Name: schema.Name, Schema: schema.Parameters, Strict: true},
	}
	msg, err := c.complete(ctx, req, format)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripCodeFence(msg.Content)), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	return nil
}

func (c *OpenAIClient) complete(ctx context.Context, req ChatRequest, format *wireResponseFormat) (state.Message, error) {
	ref := ParseModelRef(req.Model)
	start := time.Now()

	msg, err := c.do(ctx, ref, req, format)

	metrics.ModelCalls.WithLabelValues(req.Stage, ref.Name, metrics.Outcome(err)).Inc()
	metrics.ModelLatency.WithLabelValues(req.Stage).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("Model call failed",
			zap.String("stage", req.Stage),
			zap.String("model", ref.String()),
			zap.Error(err),
		)
	}
	return msg, err
}

func (c *OpenAIClient) do(ctx context.Context, ref ModelRef, req ChatRequest, format *wireResponseFormat) (state.Message, error) {
	body := chatCompletionRequest{
		Model:          ref.Name,
		Messages:       toWireMessages(req.Messages),
		MaxTokens:      req.MaxTokens,
		ResponseFormat: format,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{Type: "function", Function: t})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return state.Message{}, fmt.Errorf("failed to encode chat request: %w", err)
	}

	if err := c.limiter.Wait(ctx, ref.Provider, estimateTokens(req.Messages)); err != nil {
		return state.Message{}, fmt.Errorf("rate limiter: %w", err)
	}

	url := strings.TrimRight(c.baseURL(ref.Provider), "/") + "/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return state.Message{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return state.Message{}, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return state.Message{}, fmt.Errorf("failed to read chat completion: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return state.Message{}, fmt.Errorf("model API error (status %d): %s", resp.StatusCode, util.TruncateString(string(raw), 300, false))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return state.Message{}, fmt.Errorf("failed to decode chat completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return state.Message{}, ErrEmptyResponse
	}
	metrics.ModelTokens.WithLabelValues(ref.Name, "prompt").Add(float64(parsed.Usage.PromptTokens))
	metrics.ModelTokens.WithLabelValues(ref.Name, "completion").Add(float64(parsed.Usage.CompletionTokens))

	return fromWireMessage(parsed.Choices[0].Message)
}

func (c *OpenAIClient) baseURL(provider string) string {
	if u, ok := c.cfg.ProviderBaseURLs[provider]; ok && u != "" {
		return u
	}
	return c.cfg.BaseURL
}

func toWireMessages(msgs []state.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		wm := wireMessage{Role: string(m.Role), Content: &content, ToolCallID: m.ToolCallID}
		if m.Role == state.RoleTool {
			wm.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			if tc.Args == nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: string(args)},
			})
		}
		if len(wm.ToolCalls) > 0 && content == "" {
			wm.Content = nil
		}
		out = append(out, wm)
	}
	return out
}

func fromWireMessage(wm wireMessage) (state.Message, error) {
	msg := state.Message{Role: state.RoleAssistant}
	if wm.Content != nil {
		msg.Content = *wm.Content
	}
	for _, tc := range wm.ToolCalls {
		args := map[string]interface{}{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return state.Message{}, fmt.Errorf("%w: tool %s arguments: %v", ErrInvalidStructure, tc.Function.Name, err)
			}
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.New().String()
		}
		msg.ToolCalls = append(msg.ToolCalls, state.ToolCall{ID: id, Name: tc.Function.Name, Args: args})
	}
	return msg, nil
}

// estimateTokens approximates prompt size at four characters per token
func estimateTokens(msgs []state.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n / 4
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
