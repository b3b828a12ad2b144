package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

// ClientConfig selects the Temporal frontend
type ClientConfig struct {
	HostPort  string
	Namespace string
}

// Dial connects to Temporal with SDK logs routed to logger.
func Dial(cfg ClientConfig, logger *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger.Named("temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// NewWorker registers PlanningWorkflow and the pipeline activities on taskQueue.
// The caller starts and stops the worker.
func NewWorker(c client.Client, taskQueue string, acts *activities.Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.PlanningWorkflow)
	w.RegisterActivity(acts)
	return w
}
