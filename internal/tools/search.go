package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/util"
)

// ToolWebSearch is the name every search backend registers under.
const ToolWebSearch = "web_search"

// Search backends selectable with search_api.
const (
	SearchTavily = "tavily"
	SearchOpenAI = "openai"
	SearchNone   = "none"
)

const webSearchDescription = "A search engine optimized for comprehensive, accurate, and trusted results. " +
	"Useful for when you need to answer questions about current events."

func webSearchSpec() models.ToolSpec {
	return models.ToolSpec{
		Name:        ToolWebSearch,
		Description: webSearchDescription,
		Parameters: models.ObjectSchema(map[string]interface{}{
			"queries": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "List of search queries to run",
			},
		}),
	}
}

// Summarizer condenses raw page content. Optional.
type Summarizer struct {
	Model     models.ChatModel
	ModelName string
	MaxTokens int
}

// TavilySearch queries the Tavily search API.
type TavilySearch struct {
	baseURL    string
	apiKey     string
	maxResults int
	topic      string
	http       *circuitbreaker.HTTPWrapper
	summarizer *Summarizer
	logger     *zap.Logger
}

func NewTavilySearch(baseURL, apiKey string, maxResults int, client *http.Client, breaker circuitbreaker.Settings, summarizer *Summarizer, logger *zap.Logger) *TavilySearch {
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &TavilySearch{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		maxResults: maxResults,
		topic:      "general",
		http:       circuitbreaker.NewHTTPWrapper(client, "tavily", "tools", breaker, logger),
		summarizer: summarizer,
		logger:     logger,
	}
}

func (t *TavilySearch) Spec() models.ToolSpec { return webSearchSpec() }

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	Topic             string `json:"topic"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content"`
	Score      float64 `json:"score"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Results []tavilyResult `json:"results"`
}

func (t *TavilySearch) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	queries := stringsArg(args, "queries")
	if len(queries) == 0 {
		queries = stringsArg(args, "query")
	}
	if len(queries) == 0 {
		return "", errors.New("no search queries provided")
	}

	responses := make([]*tavilyResponse, len(queries))
	errs := make([]error, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			responses[i], errs[i] = t.search(ctx, q)
		}(i, q)
	}
	wg.Wait()

	var unique []tavilyResult
	seen := make(map[string]bool)
	var firstErr error
	for i, resp := range responses {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		for _, r := range resp.Results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			unique = append(unique, r)
		}
	}
	if len(unique) == 0 && firstErr != nil {
		return "", firstErr
	}
	if len(unique) == 0 {
		return "No valid search results found. Please try different search queries.", nil
	}

	summaries := t.summarize(ctx, unique)

	var sb strings.Builder
	sb.WriteString("Search results: \n\n")
	for i, r := range unique {
		fmt.Fprintf(&sb, "\n\n--- SOURCE %d: %s ---\n", i+1, r.Title)
		fmt.Fprintf(&sb, "URL: %s\n\n", r.URL)
		fmt.Fprintf(&sb, "SUMMARY:\n%s\n\n", summaries[i])
		sb.WriteString("\n\n" + strings.Repeat("-", 80) + "\n")
	}
	return sb.String(), nil
}

func (t *TavilySearch) search(ctx context.Context, query string) (*tavilyResponse, error) {
	payload, err := json.Marshal(tavilyRequest{
		Query:             query,
		MaxResults:        t.maxResults,
		Topic:             t.topic,
		IncludeRawContent: t.summarizer != nil,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily API error (status %d): %s", resp.StatusCode, util.TruncateString(string(body), 200, false))
	}
	var out tavilyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}
	return &out, nil
}

const maxSummarizeChars = 50000

// summarize condenses raw content per result; it falls back to the snippet
// when no summarizer is configured or the model call fails.
func (t *TavilySearch) summarize(ctx context.Context, results []tavilyResult) []string {
	out := make([]string, len(results))
	var wg sync.WaitGroup
	for i, r := range results {
		out[i] = r.Content
		if t.summarizer == nil || r.RawContent == "" {
			continue
		}
		wg.Add(1)
		go func(i int, r tavilyResult) {
			defer wg.Done()
			msg, err := t.summarizer.Model.Generate(ctx, models.ChatRequest{
				Stage:     models.StageSummarize,
				Model:     t.summarizer.ModelName,
				MaxTokens: t.summarizer.MaxTokens,
				Messages: []state.Message{
					state.SystemMessage("Summarize the following webpage content. Keep key facts, figures, names and dates. Respond with the summary only."),
					state.UserMessage(util.TruncateString(r.RawContent, maxSummarizeChars, false)),
				},
			})
			if err != nil || strings.TrimSpace(msg.Content) == "" {
				t.logger.Debug("Webpage summarization failed, using snippet", zap.String("url", r.URL), zap.Error(err))
				return
			}
			out[i] = msg.Content
		}(i, r)
	}
	wg.Wait()
	return out
}

// ModelSearch delegates web search to a search-capable chat model.
type ModelSearch struct {
	model     models.ChatModel
	modelName string
	maxTokens int
}

func NewModelSearch(model models.ChatModel, modelName string, maxTokens int) *ModelSearch {
	return &ModelSearch{model: model, modelName: modelName, maxTokens: maxTokens}
}

func (s *ModelSearch) Spec() models.ToolSpec { return webSearchSpec() }

func (s *ModelSearch) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	queries := stringsArg(args, "queries")
	if len(queries) == 0 {
		queries = stringsArg(args, "query")
	}
	if len(queries) == 0 {
		return "", errors.New("no search queries provided")
	}
	msg, err := s.model.Generate(ctx, models.ChatRequest{
		Stage:     models.StageSearch,
		Model:     s.modelName,
		MaxTokens: s.maxTokens,
		Messages: []state.Message{
			state.SystemMessage("Search the web and answer each query with cited source URLs."),
			state.UserMessage(strings.Join(queries, "\n")),
		},
	})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}
