package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
)

// Event types published for a run.
const (
	EventNodeCompleted = "node_completed"
	EventInterrupt     = "interrupt"
	EventQuestion      = "question"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
)

// Event is a run progress event used by SSE, WebSocket and the NATS bridge.
type Event struct {
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Node      string          `json:"node,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sink receives every published event after sequencing.
type Sink func(Event)

// Manager provides in-memory pub/sub for run events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-run ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
	sinks    []Sink
	logger   *zap.Logger
}

const DefaultCapacity = 256

func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// AddSink registers a sink called synchronously on every publish.
func (m *Manager) AddSink(s Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a run; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// SubscriberCount returns the number of live subscribers of a run.
func (m *Manager) SubscriberCount(runID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[runID])
}

// Publish sequences evt and sends it to all subscribers of runID (non-blocking).
func (m *Manager) Publish(runID string, evt Event) Event {
	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	evt.RunID = runID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	rg.push(evt)
	// Sends are non-blocking, so holding the lock keeps Unsubscribe from closing a channel mid-send.
	for ch := range m.subscribers[runID] {
		select {
		case ch <- evt:
		default:
			m.logger.Debug("Dropping event for slow subscriber",
				zap.String("run_id", runID), zap.Uint64("seq", evt.Seq))
		}
	}
	sinks := m.sinks
	m.mu.Unlock()

	for _, s := range sinks {
		s(evt)
	}
	return evt
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay history of a run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
