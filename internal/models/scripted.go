package models

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// Reply is one canned model response.
type Reply struct {
	Message state.Message
	JSON    string
	Err     error
}

// Text is a plain assistant reply.
func Text(content string) Reply {
	return Reply{Message: state.AssistantMessage(content)}
}

// Calls is an assistant reply requesting the given tools.
func Calls(calls ...state.ToolCall) Reply {
	return Reply{Message: state.Message{Role: state.RoleAssistant, ToolCalls: calls}}
}

// Structured is a reply for GenerateStructured; v is marshalled to JSON.
func Structured(v interface{}) Reply {
	b, err := json.Marshal(v)
	if err != nil {
		return Reply{Err: err}
	}
	return Reply{JSON: string(b)}
}

// Fail is a reply that makes the call return err.
func Fail(err error) Reply { return Reply{Err: err} }

// ScriptedModel is a deterministic ChatModel driven by per-stage reply queues.
// Once a queue is drained its last reply repeats. Safe for concurrent use.
type ScriptedModel struct {
	mu       sync.Mutex
	queues   map[string][]Reply
	last     map[string]Reply
	handlers map[string]func(req ChatRequest) Reply
	requests map[string][]ChatRequest
}

func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{
		queues:   make(map[string][]Reply),
		last:     make(map[string]Reply),
		handlers: make(map[string]func(req ChatRequest) Reply),
		requests: make(map[string][]ChatRequest),
	}
}

// On queues replies for a stage.
func (m *ScriptedModel) On(stage string, replies ...Reply) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[stage] = append(m.queues[stage], replies...)
	return m
}

// Handle answers every call of a stage with fn. Queued replies take precedence.
func (m *ScriptedModel) Handle(stage string, fn func(req ChatRequest) Reply) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[stage] = fn
	return m
}

// CallCount returns how many calls a stage received.
func (m *ScriptedModel) CallCount(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests[stage])
}

// Requests returns a copy of the requests seen by a stage.
func (m *ScriptedModel) Requests(stage string) []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests[stage]...)
}

func (m *ScriptedModel) next(req ChatRequest) (Reply, error) {
	m.mu.Lock()
	m.requests[req.Stage] = append(m.requests[req.Stage], req)
	if q := m.queues[req.Stage]; len(q) > 0 {
		r := q[0]
		m.queues[req.Stage] = q[1:]
		m.last[req.Stage] = r
		m.mu.Unlock()
		return r, nil
	}
	fn := m.handlers[req.Stage]
	r, ok := m.last[req.Stage]
	m.mu.Unlock()

	if fn != nil {
		return fn(req), nil
	}
	if !ok {
		return Reply{}, fmt.Errorf("scripted model: no reply for stage %q", req.Stage)
	}
	return r, nil
}

func (m *ScriptedModel) Generate(ctx context.Context, req ChatRequest) (state.Message, error) {
	r, err := m.next(req)
	if err != nil {
		return state.Message{}, err
	}
	if r.Err != nil {
		return state.Message{}, r.Err
	}
	msg := r.Message
	if msg.Role == "" {
		msg.Role = state.RoleAssistant
	}
	return msg, nil
}

func (m *ScriptedModel) GenerateStructured(ctx context.Context, req ChatRequest, schema Schema, out interface{}) error {
	r, err := m.next(req)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}
	if err := json.Unmarshal([]byte(r.JSON), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	return nil
}
