package state

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by an assistant message.
// ID must round-trip into exactly one tool message.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// ArgString returns a string argument or "" when missing.
func (tc ToolCall) ArgString(key string) string {
	if tc.Args == nil {
		return ""
	}
	switch v := tc.Args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Message is one entry of a conversation
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message   { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage builds the response for a given tool call.
func ToolMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// HasToolCalls reports whether an assistant message requested any tools.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Conversation is an ordered, append-only list of messages
type Conversation []Message

// Last returns the final message and false when empty.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// Clone returns an independent copy safe to hand to another goroutine.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	for i, m := range c {
		out[i] = m
		if len(m.ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}

// ToolContents projects the content of every tool message in order.
func (c Conversation) ToolContents() []string {
	var out []string
	for _, m := range c {
		if m.Role == RoleTool {
			out = append(out, m.Content)
		}
	}
	return out
}

// BufferString renders the conversation as "Role: content" lines.
func (c Conversation) BufferString() string {
	var sb strings.Builder
	for i, m := range c {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch m.Role {
		case RoleUser:
			sb.WriteString("Human: ")
		case RoleAssistant:
			sb.WriteString("AI: ")
		case RoleSystem:
			sb.WriteString("System: ")
		case RoleTool:
			sb.WriteString("Tool: ")
		default:
			sb.WriteString(string(m.Role) + ": ")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}
