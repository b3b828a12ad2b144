package state

import (
	"encoding/json"
	"fmt"
)

// NodeKind enumerates the pipeline nodes. The set is closed; callers switch on it
// exhaustively and keep a default arm for kinds added later.
type NodeKind int

const (
	NodeClarify NodeKind = iota
	NodeWriteBrief
	NodeSupervisor
	NodeFinalReport
	NodeToolPropose
	NodeHumanGate
	NodeToolExecute
	NodeEnd
)

// AllNodes lists every kind in pipeline order.
var AllNodes = []NodeKind{
	NodeClarify,
	NodeWriteBrief,
	NodeSupervisor,
	NodeFinalReport,
	NodeToolPropose,
	NodeHumanGate,
	NodeToolExecute,
	NodeEnd,
}

func (k NodeKind) String() string {
	switch k {
	case NodeClarify:
		return "clarify"
	case NodeWriteBrief:
		return "write_brief"
	case NodeSupervisor:
		return "supervisor"
	case NodeFinalReport:
		return "final_report"
	case NodeToolPropose:
		return "tool_propose"
	case NodeHumanGate:
		return "human_gate"
	case NodeToolExecute:
		return "tool_execute"
	case NodeEnd:
		return "end"
	default:
		return fmt.Sprintf("node(%d)", int(k))
	}
}

// ParseNodeKind maps the wire name back to a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	for _, k := range AllNodes {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

func (k NodeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *NodeKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseNodeKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
