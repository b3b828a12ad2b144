package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

func main() {
	historyPath := flag.String("history", "", "Path to Temporal workflow history JSON (from tctl --output json)")
	flag.Parse()

	if *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json")
		os.Exit(2)
	}

	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflow(workflows.PlanningWorkflow)

	// Errors on any non-determinism between the history and the current workflow code.
	if err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, *historyPath); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}

	log.Printf("Replay succeeded for %s", *historyPath)
}
