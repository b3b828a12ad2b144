package formatting

import (
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/util"
)

// Describe renders a one-line, user-facing summary of a completed node for
// the event stream.
func Describe(kind state.NodeKind, u state.Update) string {
	switch kind {
	case state.NodeClarify:
		if u.Status == state.StatusAwaitingUser {
			return "Asked a clarifying question"
		}
		return "Request is clear, writing the research brief"
	case state.NodeWriteBrief:
		if u.ResearchBrief != nil {
			return "Research brief: " + util.TruncateString(*u.ResearchBrief, 160, true)
		}
		return "Research brief written"
	case state.NodeSupervisor:
		rounds := 0
		if u.ResearchIterations != nil {
			rounds = *u.ResearchIterations
		}
		return fmt.Sprintf("Research finished after %d round(s) with %d note(s)", rounds, len(u.Notes))
	case state.NodeFinalReport:
		return "Final report drafted"
	case state.NodeToolPropose:
		if n := pendingCalls(u); n > 0 {
			return fmt.Sprintf("Proposed %d tool call(s)", n)
		}
		return "No further tool calls proposed"
	case state.NodeHumanGate:
		if u.Interrupt != nil {
			return fmt.Sprintf("Waiting for approval of %d tool call(s)", len(u.Interrupt.PendingToolCalls))
		}
		if len(u.ToolMessages) > 0 {
			return "Tool calls rejected with feedback"
		}
		return "Tool calls approved"
	case state.NodeToolExecute:
		return fmt.Sprintf("Executed %d tool call(s)", len(u.ToolMessages))
	case state.NodeEnd:
		return "Run complete"
	default:
		return kind.String()
	}
}

func pendingCalls(u state.Update) int {
	n := 0
	for _, m := range u.ToolMessages {
		n += len(m.ToolCalls)
	}
	return n
}
