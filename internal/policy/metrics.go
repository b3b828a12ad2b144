package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_policy_evaluations_total",
			Help: "Approval policy evaluations by tool and result",
		},
		[]string{"tool", "result"},
	)

	evaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_policy_errors_total",
			Help: "Approval policy load and evaluation errors",
		},
		[]string{"stage"},
	)

	loadedModules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "planner_policy_modules_loaded",
			Help: "Number of rego modules currently compiled",
		},
	)
)

func recordEvaluation(tool string, requireApproval bool) {
	result := "auto"
	if requireApproval {
		result = "approval"
	}
	evaluations.WithLabelValues(tool, result).Inc()
}
