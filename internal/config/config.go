package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tracing"
)

// Config is the full service configuration
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	// ConfigDir is watched for mcp.yaml and *.rego changes.
	ConfigDir string `mapstructure:"config_dir"`

	MaxStructuredOutputRetries int           `mapstructure:"max_structured_output_retries"`
	AllowClarification         bool          `mapstructure:"allow_clarification"`
	MaxConcurrentResearchUnits int           `mapstructure:"max_concurrent_research_units"`
	MaxResearcherIterations    int           `mapstructure:"max_researcher_iterations"`
	MaxReactToolCalls          int           `mapstructure:"max_react_tool_calls"`
	CompressionAttempts        int           `mapstructure:"compression_attempts"`
	ReportMaxRetries           int           `mapstructure:"report_max_retries"`
	RetryBackoff               time.Duration `mapstructure:"retry_backoff"`
	MaxToolLoopIterations      int           `mapstructure:"max_tool_loop_iterations"`

	SearchAPI        string `mapstructure:"search_api"`
	TavilyAPIKey     string `mapstructure:"tavily_api_key"`
	TavilyBaseURL    string `mapstructure:"tavily_base_url"`
	SearchMaxResults int    `mapstructure:"search_max_results"`

	ResearchModel             string `mapstructure:"research_model"`
	ResearchModelMaxTokens    int    `mapstructure:"research_model_max_tokens"`
	CompressionModel          string `mapstructure:"compression_model"`
	CompressionModelMaxTokens int    `mapstructure:"compression_model_max_tokens"`
	FinalReportModel          string `mapstructure:"final_report_model"`
	FinalReportModelMaxTokens int    `mapstructure:"final_report_model_max_tokens"`
	ClarificationModel        string `mapstructure:"clarification_model"`
	ClarificationMaxTokens    int    `mapstructure:"clarification_model_max_tokens"`
	SummarizationModel        string `mapstructure:"summarization_model"`
	SummarizationMaxTokens    int    `mapstructure:"summarization_model_max_tokens"`

	WorkspaceDir string `mapstructure:"workspace_dir"`

	LLM            models.ClientConfig  `mapstructure:"llm"`
	Checkpoint     checkpoint.Config    `mapstructure:"checkpoint"`
	MCP            MCPConfig            `mapstructure:"mcp"`
	Policy         policy.Config        `mapstructure:"policy"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Auth           auth.Config          `mapstructure:"auth"`
	Tracing        tracing.Config       `mapstructure:"tracing"`
	Streaming      StreamingConfig      `mapstructure:"streaming"`
	Temporal       TemporalConfig       `mapstructure:"temporal"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimits     ratecontrol.Config   `mapstructure:"rate_limits"`
}

// MCPConfig points at the MCP server document
type MCPConfig struct {
	// ConfigFile is resolved relative to ConfigDir when not absolute.
	ConfigFile string `mapstructure:"config_file"`
}

type HTTPConfig struct {
	Port      int `mapstructure:"port"`
	AdminPort int `mapstructure:"admin_port"`
}

type StreamingConfig struct {
	Capacity int                  `mapstructure:"capacity"`
	NATS     streaming.NATSConfig `mapstructure:"nats"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type CircuitBreakerConfig struct {
	Model circuitbreaker.Settings `mapstructure:"model"`
	Tool  circuitbreaker.Settings `mapstructure:"tool"`
}

func setDefaults(v *viper.Viper) {
	s := activities.DefaultSettings()
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("config_dir", "config")

	v.SetDefault("max_structured_output_retries", s.MaxStructuredOutputRetries)
	v.SetDefault("allow_clarification", s.AllowClarification)
	v.SetDefault("max_concurrent_research_units", s.MaxConcurrentResearchUnits)
	v.SetDefault("max_researcher_iterations", s.MaxResearcherIterations)
	v.SetDefault("max_react_tool_calls", s.MaxReactToolCalls)
	v.SetDefault("compression_attempts", s.CompressionAttempts)
	v.SetDefault("report_max_retries", s.ReportMaxRetries)
	v.SetDefault("retry_backoff", s.RetryBackoff)
	v.SetDefault("max_tool_loop_iterations", s.MaxToolLoopIterations)

	v.SetDefault("search_api", tools.SearchTavily)
	v.SetDefault("tavily_api_key", "")
	v.SetDefault("tavily_base_url", "https://api.tavily.com")
	v.SetDefault("search_max_results", 5)

	v.SetDefault("research_model", s.ResearchModel)
	v.SetDefault("research_model_max_tokens", s.ResearchMaxTokens)
	v.SetDefault("compression_model", s.CompressionModel)
	v.SetDefault("compression_model_max_tokens", s.CompressionMaxTokens)
	v.SetDefault("final_report_model", s.FinalReportModel)
	v.SetDefault("final_report_model_max_tokens", s.FinalReportMaxTokens)
	v.SetDefault("clarification_model", s.ClarificationModel)
	v.SetDefault("clarification_model_max_tokens", s.ClarificationMaxTokens)
	v.SetDefault("summarization_model", "openai:gpt-4o-mini")
	v.SetDefault("summarization_model_max_tokens", 8192)

	v.SetDefault("workspace_dir", "workspace")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.redis.addr", "localhost:6379")
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.prefix", "planner:")
	v.SetDefault("checkpoint.redis.ttl", 7*24*time.Hour)
	v.SetDefault("checkpoint.sql.driver", "sqlite3")
	v.SetDefault("checkpoint.sql.dsn", "file:planner.db?_busy_timeout=5000")
	v.SetDefault("checkpoint.sql.max_connections", 10)
	v.SetDefault("checkpoint.sql.idle_connections", 2)
	v.SetDefault("checkpoint.sql.max_lifetime", 30*time.Minute)

	v.SetDefault("mcp.config_file", "mcp.yaml")

	v.SetDefault("policy.protected_tools", policy.DefaultProtectedTools())
	v.SetDefault("policy.path", "")
	v.SetDefault("policy.fail_closed", false)
	v.SetDefault("policy.environment", "dev")

	v.SetDefault("http.port", 8081)
	v.SetDefault("http.admin_port", 2112)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.dev_subject", "dev")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "project-planner")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("streaming.capacity", streaming.DefaultCapacity)
	v.SetDefault("streaming.nats.enabled", false)
	v.SetDefault("streaming.nats.url", "nats://localhost:4222")
	v.SetDefault("streaming.nats.subject_prefix", streaming.DefaultSubjectPrefix)
	v.SetDefault("streaming.nats.embedded", false)
	v.SetDefault("streaming.nats.port", -1)

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "project-planner")

	model, tool := circuitbreaker.ModelSettings(), circuitbreaker.ToolSettings()
	for prefix, cb := range map[string]circuitbreaker.Settings{"circuit_breaker.model": model, "circuit_breaker.tool": tool} {
		v.SetDefault(prefix+".max_requests", cb.MaxRequests)
		v.SetDefault(prefix+".interval", cb.Interval)
		v.SetDefault(prefix+".timeout", cb.Timeout)
		v.SetDefault(prefix+".failure_threshold", cb.FailureThreshold)
		v.SetDefault(prefix+".success_threshold", cb.SuccessThreshold)
	}

	v.SetDefault("rate_limits.default_rpm", 60)
	v.SetDefault("rate_limits.default_tpm", 100000)
}

// Load reads .env (best effort), then the optional YAML file at path, then
// environment overrides. Env keys are the upper-cased config keys with dots
// replaced by underscores, e.g. MAX_CONCURRENT_RESEARCH_UNITS or CHECKPOINT_BACKEND.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional provider variables.
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.base_url", "LLM_BASE_URL", "OPENAI_BASE_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxStructuredOutputRetries < 1:
		return fmt.Errorf("max_structured_output_retries must be at least 1")
	case c.MaxConcurrentResearchUnits < 1:
		return fmt.Errorf("max_concurrent_research_units must be at least 1")
	case c.MaxResearcherIterations < 1:
		return fmt.Errorf("max_researcher_iterations must be at least 1")
	case c.ReportMaxRetries < 0:
		return fmt.Errorf("report_max_retries must not be negative")
	case c.MaxToolLoopIterations < 1:
		return fmt.Errorf("max_tool_loop_iterations must be at least 1")
	}
	switch c.SearchAPI {
	case tools.SearchTavily, tools.SearchOpenAI, tools.SearchNone:
	default:
		return fmt.Errorf("unknown search_api %q", c.SearchAPI)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.enabled requires auth.jwt_secret or auth.api_keys")
	}
	return nil
}

// Settings projects the pipeline knobs.
func (c *Config) Settings() activities.Settings {
	return activities.Settings{
		MaxStructuredOutputRetries: c.MaxStructuredOutputRetries,
		AllowClarification:         c.AllowClarification,
		MaxConcurrentResearchUnits: c.MaxConcurrentResearchUnits,
		MaxResearcherIterations:    c.MaxResearcherIterations,
		MaxReactToolCalls:          c.MaxReactToolCalls,
		CompressionAttempts:        c.CompressionAttempts,
		ReportMaxRetries:           c.ReportMaxRetries,
		RetryBackoff:               c.RetryBackoff,
		MaxToolLoopIterations:      c.MaxToolLoopIterations,

		ClarificationModel:     c.ClarificationModel,
		ClarificationMaxTokens: c.ClarificationMaxTokens,
		ResearchModel:          c.ResearchModel,
		ResearchMaxTokens:      c.ResearchModelMaxTokens,
		CompressionModel:       c.CompressionModel,
		CompressionMaxTokens:   c.CompressionModelMaxTokens,
		FinalReportModel:       c.FinalReportModel,
		FinalReportMaxTokens:   c.FinalReportModelMaxTokens,
	}
}

// Connection projects the tool-wiring settings; mcp is the loaded MCP document.
func (c *Config) Connection(mcp tools.MCPConfig) tools.ConnectionConfig {
	return tools.ConnectionConfig{
		SearchAPI:        c.SearchAPI,
		TavilyAPIKey:     c.TavilyAPIKey,
		TavilyBaseURL:    c.TavilyBaseURL,
		SearchModel:      c.ResearchModel,
		SearchMaxResults: c.SearchMaxResults,
		SummaryModel:     c.SummarizationModel,
		SummaryMaxTokens: c.SummarizationMaxTokens,
		WorkspaceDir:     c.WorkspaceDir,
		MCP:              mcp,
	}
}
