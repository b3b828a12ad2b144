package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// ErrNotFound is returned by Load for unknown run IDs.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists run state keyed by run ID
type Store interface {
	Save(ctx context.Context, st *state.RunState) error
	Load(ctx context.Context, runID string) (*state.RunState, error)
	Delete(ctx context.Context, runID string) error
	// List returns the run IDs currently stored.
	List(ctx context.Context) ([]string, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

func encode(st *state.RunState) ([]byte, error) {
	if st == nil || st.RunID == "" {
		return nil, errors.New("checkpoint requires a run id")
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run %s: %w", st.RunID, err)
	}
	return b, nil
}

func decode(runID string, b []byte) (*state.RunState, error) {
	var st state.RunState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &st, nil
}

func observe(backend, op string, err error) {
	outcome := metrics.Outcome(err)
	if errors.Is(err, ErrNotFound) {
		outcome = "not_found"
	}
	metrics.CheckpointOps.WithLabelValues(backend, op, outcome).Inc()
}
