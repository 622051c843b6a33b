// Package conversation contains the data structures for a chat session:
// messages, tool invocations and the session status.
package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Role represents who sent the message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// InvocationState is the lifecycle state of a tool invocation.
type InvocationState string

const (
	StateCall   InvocationState = "call"
	StateResult InvocationState = "result"
)

var (
	ErrDuplicateToolCall   = errors.New("duplicate tool call id")
	ErrOrphanToolResult    = errors.New("tool result without matching tool call")
	ErrDuplicateToolResult = errors.New("tool call already has a result")
	ErrFinalized           = errors.New("message is finalized")
)

// ToolInvocation is a tool the assistant asked for, plus its result once known.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
	Result     json.RawMessage `json:"result,omitempty"`
	State      InvocationState `json:"state"`
}

// HasResult reports whether the invocation has been resolved.
func (t ToolInvocation) HasResult() bool {
	return t.State == StateResult
}

// Message is a single message in a conversation.
type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`

	// Final is set once the turn that produced the message has ended.
	Final bool `json:"-"`
}

// AppendText appends a streamed fragment to the message content.
func (m *Message) AppendText(s string) error {
	if m.Final {
		return ErrFinalized
	}
	m.Content += s
	return nil
}

// StartToolCall appends a new invocation in the call state.
func (m *Message) StartToolCall(id, name string, args json.RawMessage) error {
	if m.Final {
		return ErrFinalized
	}
	if m.invocation(id) != nil {
		return ErrDuplicateToolCall
	}
	m.ToolInvocations = append(m.ToolInvocations, ToolInvocation{
		ToolCallID: id,
		ToolName:   name,
		Args:       cloneRaw(args),
		State:      StateCall,
	})
	return nil
}

// ResolveToolCall attaches a result to the invocation with the given id.
func (m *Message) ResolveToolCall(id string, result json.RawMessage) error {
	if m.Final {
		return ErrFinalized
	}
	inv := m.invocation(id)
	if inv == nil {
		return ErrOrphanToolResult
	}
	if inv.State == StateResult {
		return ErrDuplicateToolResult
	}
	inv.Result = cloneRaw(result)
	if inv.Result == nil {
		inv.Result = json.RawMessage("null")
	}
	inv.State = StateResult
	return nil
}

// Finalize marks the message immutable.
func (m *Message) Finalize() {
	m.Final = true
}

// PendingToolCalls returns the invocations still waiting for a result.
func (m *Message) PendingToolCalls() []ToolInvocation {
	var pending []ToolInvocation
	for _, inv := range m.ToolInvocations {
		if !inv.HasResult() {
			pending = append(pending, inv)
		}
	}
	return pending
}

// IsEmpty returns true if the message has neither text nor tool calls.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.ToolInvocations) == 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.ToolInvocations != nil {
		c.ToolInvocations = make([]ToolInvocation, len(m.ToolInvocations))
		for i, inv := range m.ToolInvocations {
			inv.Args = cloneRaw(inv.Args)
			inv.Result = cloneRaw(inv.Result)
			c.ToolInvocations[i] = inv
		}
	}
	return c
}

func (m *Message) invocation(id string) *ToolInvocation {
	for i := range m.ToolInvocations {
		if m.ToolInvocations[i].ToolCallID == id {
			return &m.ToolInvocations[i]
		}
	}
	return nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return bytes.Clone(raw)
}
