package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// MemoryStore keeps encoded checkpoints in process. Stored values are
// independent of the caller's state.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, st *state.RunState) (err error) {
	defer func() { observe("memory", "save", err) }()
	b, err := encode(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.runs[st.RunID] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, runID string) (st *state.RunState, err error) {
	defer func() { observe("memory", "load", err) }()
	m.mu.RLock()
	b, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return decode(runID, b)
}

func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()
	observe("memory", "delete", nil)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }
