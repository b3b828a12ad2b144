package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// ErrorPrefix starts every tool message produced from a failed invocation.
const ErrorPrefix = "Error executing tool: "

// Gateway invokes tools by name. It never returns an error: failures,
// unknown tools, open breakers and panics all become tool message text.
type Gateway struct {
	tools    map[string]Tool
	order    []string
	breakers *circuitbreaker.Group
	logger   *zap.Logger
}

// NewGateway builds a gateway over tools. breakers may be nil.
func NewGateway(logger *zap.Logger, breakers *circuitbreaker.Group, tools ...Tool) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{tools: make(map[string]Tool), breakers: breakers, logger: logger}
	for _, t := range tools {
		g.add(t)
	}
	return g
}

func (g *Gateway) add(t Tool) {
	name := t.Spec().Name
	if _, exists := g.tools[name]; !exists {
		g.order = append(g.order, name)
	}
	g.tools[name] = t
}

// Has reports whether a tool is registered.
func (g *Gateway) Has(name string) bool {
	if g == nil {
		return false
	}
	_, ok := g.tools[name]
	return ok
}

// Len returns the number of registered tools.
func (g *Gateway) Len() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}

// Specs lists tool specs in registration order.
func (g *Gateway) Specs() []models.ToolSpec {
	if g == nil {
		return nil
	}
	out := make([]models.ToolSpec, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.tools[name].Spec())
	}
	return out
}

// Invoke runs one call and returns its textual result.
func (g *Gateway) Invoke(ctx context.Context, call state.ToolCall) (out string) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Tool panicked", zap.String("tool", call.Name), zap.Any("panic", r))
			out = ErrorPrefix + fmt.Sprintf("tool %s panicked: %v", call.Name, r)
			outcome = "panic"
		}
		metrics.ToolInvocations.WithLabelValues(call.Name, outcome).Inc()
		metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}()

	if g == nil {
		outcome = "unknown"
		return ErrorPrefix + fmt.Sprintf("tool %q is not available", call.Name)
	}
	tool, ok := g.tools[call.Name]
	if !ok {
		outcome = "unknown"
		return ErrorPrefix + fmt.Sprintf("tool %q is not available", call.Name)
	}

	var result string
	run := func() error {
		var err error
		result, err = tool.Invoke(ctx, call.Args)
		return err
	}
	var err error
	if g.breakers != nil {
		err = g.breakers.Execute(ctx, call.Name, run)
	} else {
		err = run()
	}
	if err != nil {
		outcome = "error"
		g.logger.Warn("Tool invocation failed",
			zap.String("tool", call.Name),
			zap.String("call_id", call.ID),
			zap.Error(err),
		)
		return ErrorPrefix + err.Error()
	}
	return result
}

// InvokeAll runs calls concurrently and returns one tool message per call,
// in call order.
func (g *Gateway) InvokeAll(ctx context.Context, calls []state.ToolCall) []state.Message {
	results := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call state.ToolCall) {
			defer wg.Done()
			results[i] = g.Invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()

	msgs := make([]state.Message, len(calls))
	for i, call := range calls {
		msgs[i] = state.ToolMessage(call, results[i])
	}
	return msgs
}
