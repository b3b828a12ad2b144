package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_runs_started_total",
			Help: "Total number of planning runs started",
		},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_runs_finished_total",
			Help: "Total number of planning runs reaching a terminal or suspended status",
		},
		[]string{"status"},
	)

	// Node metrics
	NodeExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_node_executions_total",
			Help: "Total number of pipeline node executions",
		},
		[]string{"node", "status"},
	)

	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planner_node_duration_seconds",
			Help:    "Pipeline node execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"node"},
	)

	// Model metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_model_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"stage", "model", "outcome"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planner_model_latency_seconds",
			Help:    "Language model call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"stage"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_model_tokens_total",
			Help: "Tokens reported by the model provider",
		},
		[]string{"model", "kind"},
	)

	// Tool metrics
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_tool_invocations_total",
			Help: "Total number of tool invocations through the gateway",
		},
		[]string{"tool", "outcome"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planner_tool_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Retry metrics
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_retries_total",
			Help: "Retried attempts by call site",
		},
		[]string{"site"},
	)

	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_retry_exhausted_total",
			Help: "Call sites that used up every attempt",
		},
		[]string{"site"},
	)

	// Research metrics
	ResearchUnitsLaunched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_research_units_launched_total",
			Help: "Research units launched by the supervisor",
		},
	)

	ResearchUnitsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_research_units_rejected_total",
			Help: "Research requests rejected for exceeding the concurrency limit",
		},
	)

	SupervisorRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_supervisor_rounds",
			Help:    "Dispatch rounds per supervisor run",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 12},
		},
	)

	SupervisorDispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_supervisor_dispatch_failures_total",
			Help: "Supervisor model calls that failed and ended research early",
		},
	)

	// Human-in-the-loop metrics
	InterruptsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_interrupts_raised_total",
			Help: "Approval interrupts raised by the human gate",
		},
	)

	InterruptsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_interrupts_resolved_total",
			Help: "Approval interrupts resolved by action",
		},
		[]string{"action"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "planner_stream_subscribers",
			Help: "Active event stream subscribers",
		},
	)

	// Checkpoint metrics
	CheckpointOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_checkpoint_operations_total",
			Help: "Checkpoint store operations",
		},
		[]string{"backend", "op", "outcome"},
	)
)

// Outcome maps an error to a metrics label
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
