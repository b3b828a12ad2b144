package activities

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tools"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.RetryBackoff = 0
	return s
}

func toolCall(id, name string, args map[string]interface{}) state.ToolCall {
	return state.ToolCall{ID: id, Name: name, Args: args}
}

func researchCall(id, topic string) state.ToolCall {
	return toolCall(id, ToolConductResearch, map[string]interface{}{"research_topic": topic})
}

// searchGateway returns a web_search tool whose output cites one URL per query.
func searchGateway(t *testing.T) *tools.Gateway {
	return tools.NewGateway(zaptest.NewLogger(t), nil, tools.FuncTool{
		ToolSpec: models.ToolSpec{Name: tools.ToolWebSearch, Description: "search"},
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			q, _ := args["query"].(string)
			return fmt.Sprintf("Search results: \n\n--- SOURCE 1: %s ---\nURL: https://example.com/%s\n\nSUMMARY:\nabout %s", q, q, q), nil
		},
	})
}

// countingSearchGateway is searchGateway plus a count of invocations.
func countingSearchGateway(t *testing.T) (*tools.Gateway, *atomic.Int32) {
	var n atomic.Int32
	gw := tools.NewGateway(zaptest.NewLogger(t), nil, tools.FuncTool{
		ToolSpec: models.ToolSpec{Name: tools.ToolWebSearch, Description: "search"},
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			n.Add(1)
			return fmt.Sprintf("URL: https://example.com/%v", args["query"]), nil
		},
	})
	return gw, &n
}

// fakeResearcher records topics and the peak number of concurrent runs
type fakeResearcher struct {
	mu      sync.Mutex
	topics  []string
	active  int32
	maxSeen int32
}

func (f *fakeResearcher) Run(ctx context.Context, topic string) state.CompressedNote {
	n := atomic.AddInt32(&f.active, 1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.mu.Unlock()
	return state.CompressedNote{
		Text:        "note:" + topic,
		RawExcerpts: []string{"URL: https://example.com/" + topic},
	}
}

func (f *fakeResearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics)
}

// assertToolIDsRoundTrip checks every requested call ID is answered exactly once.
func assertToolIDsRoundTrip(t *testing.T, conv []state.Message) {
	t.Helper()
	requested := map[string]int{}
	answered := map[string]int{}
	for _, m := range conv {
		for _, c := range m.ToolCalls {
			requested[c.ID]++
		}
		if m.Role == state.RoleTool {
			answered[m.ToolCallID]++
		}
	}
	for id := range requested {
		if answered[id] != 1 {
			t.Errorf("tool call %s answered %d times", id, answered[id])
		}
	}
	for id := range answered {
		if requested[id] == 0 {
			t.Errorf("tool message %s has no matching call", id)
		}
	}
}
