// Package viewmodel projects conversation state into display items. Map is a
// pure function: equal input always yields equal output.
package viewmodel

import (
	"bytes"
	"encoding/json"

	"toolchat/internal/conversation"
)

// PendingResult is shown in place of a tool result that has not arrived.
const PendingResult = "No result available"

// Placement is the side of the conversation a bubble sits on.
type Placement string

const (
	PlacementStart Placement = "start"
	PlacementEnd   Placement = "end"
)

// Avatar describes the badge drawn next to a bubble.
type Avatar struct {
	Icon       string
	Background string
	Foreground string
}

var (
	userAvatar      = Avatar{Icon: "user", Background: "#1677ff", Foreground: "#ffffff"}
	assistantAvatar = Avatar{Icon: "robot", Background: "#52c41a", Foreground: "#ffffff"}
)

// BlockKind identifies a content block.
type BlockKind int

const (
	BlockTool BlockKind = iota
	BlockText
)

// ToolBlock is the display form of one tool invocation.
type ToolBlock struct {
	CallID string
	Name   string
	// Args is the indented JSON of the arguments ("Process" panel).
	Args string
	// Result is the indented JSON of the result, or the quoted placeholder
	// while Pending ("Result" panel).
	Result  string
	Pending bool
}

// Block is one renderable piece of a message.
type Block struct {
	Kind BlockKind
	Text string
	Tool *ToolBlock
}

// Item is the display form of one message.
type Item struct {
	Key       string
	Role      conversation.Role
	Placement Placement
	Avatar    Avatar
	Streaming bool
	Blocks    []Block
}

// Map converts the conversation into display items, one per message, in
// message order.
func Map(state conversation.State) []Item {
	items := make([]Item, 0, len(state.Messages))
	for i, msg := range state.Messages {
		last := i == len(state.Messages)-1
		items = append(items, mapMessage(msg, last && state.Status.InFlight()))
	}
	return items
}

// Empty reports whether the welcome screen should be shown instead of items.
func Empty(state conversation.State) bool {
	return len(state.Messages) == 0
}

func mapMessage(msg conversation.Message, inFlight bool) Item {
	item := Item{
		Key:       msg.ID,
		Role:      msg.Role,
		Placement: PlacementStart,
		Avatar:    assistantAvatar,
		Streaming: inFlight && msg.Role == conversation.RoleAssistant,
	}
	if msg.Role == conversation.RoleUser {
		item.Placement = PlacementEnd
		item.Avatar = userAvatar
	}

	// tool blocks go before text
	for _, inv := range msg.ToolInvocations {
		item.Blocks = append(item.Blocks, Block{Kind: BlockTool, Tool: mapTool(inv)})
	}
	if msg.Content != "" {
		item.Blocks = append(item.Blocks, Block{Kind: BlockText, Text: msg.Content})
	}
	return item
}

func mapTool(inv conversation.ToolInvocation) *ToolBlock {
	tb := &ToolBlock{
		CallID: inv.ToolCallID,
		Name:   inv.ToolName,
		Args:   indent(inv.Args),
	}
	if inv.HasResult() {
		tb.Result = indent(inv.Result)
	} else {
		tb.Pending = true
		tb.Result = `"` + PendingResult + `"`
	}
	return tb
}

// indent pretty prints raw JSON with two-space indentation. Values that are
// not valid JSON are shown as they are.
func indent(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
