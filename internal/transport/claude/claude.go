// Package claude is a transport that talks to the Anthropic Messages API
// directly and runs tool calls with the local tool registry.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"toolchat/internal/conversation"
	"toolchat/internal/logging"
	"toolchat/internal/tool"
	"toolchat/internal/transport"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

// Config configures a Client.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	MaxSteps  int
	// Tools are offered to the model and executed locally.
	Tools  *tool.Registry
	Logger *logging.Logger
}

// Client streams turns from the Anthropic API.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	maxSteps  int
	tools     *tool.Registry
	logger    *logging.Logger

	inFlight atomic.Bool
}

// NewClient creates a client. Retries are left to the user.
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = transport.DefaultMaxSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		maxSteps:  cfg.MaxSteps,
		tools:     cfg.Tools,
		logger:    cfg.Logger.With("component", "claude"),
	}
}

// Stream opens a turn. Like the HTTP transport it refuses a second stream
// while one is in flight.
func (c *Client) Stream(ctx context.Context, req transport.Request) (transport.Stream, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, &transport.ConcurrentStreamError{}
	}

	cfg := transport.LoopConfig{
		AssistantID: req.AssistantID,
		MaxSteps:    c.maxSteps,
		Logger:      c.logger,
	}
	if c.tools != nil {
		cfg.Executor = c.tools
	}
	return transport.NewLoop(ctx, req.Messages, c.open, cfg, func() { c.inFlight.Store(false) }), nil
}

func (c *Client) open(ctx context.Context, history []conversation.Message) (transport.Round, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  buildMessages(history),
		Tools:     buildTools(c.tools),
	}
	if system := systemPrompt(history); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	c.logger.Debug("messages request", "model", string(c.model), "messages", len(params.Messages))
	stream := c.api.Messages.NewStreaming(ctx, params)
	return &round{stream: stream}, nil
}

// buildTools converts the registry to API tool definitions.
func buildTools(registry *tool.Registry) []anthropic.ToolUnionParam {
	if registry == nil {
		return nil
	}
	defs := registry.All()
	apiTools := make([]anthropic.ToolUnionParam, len(defs))
	for i, t := range defs {
		required, _ := t.InputSchema["required"].([]string)
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: t.InputSchema["properties"],
			Required:   required,
			Type:       "object",
		}

		toolUnion := anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
		if desc := toolUnion.OfTool; desc != nil {
			desc.Description = anthropic.Opt(t.Description)
		}
		apiTools[i] = toolUnion
	}
	return apiTools
}

// buildMessages converts the conversation to API messages. An assistant
// message with resolved tool calls is followed by a user message carrying
// the tool results.
func buildMessages(history []conversation.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, msg := range history {
		switch msg.Role {
		case conversation.RoleUser:
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			var results []anthropic.ContentBlockParamUnion
			for _, inv := range msg.ToolInvocations {
				if !inv.HasResult() {
					// the API rejects tool_use blocks without results
					continue
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(inv.ToolCallID, toolInput(inv.Args), inv.ToolName))
				results = append(results, anthropic.NewToolResultBlock(inv.ToolCallID, resultText(inv.Result), isToolError(inv.Result)))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		}
	}
	return messages
}

func systemPrompt(history []conversation.Message) string {
	var parts []string
	for _, msg := range history {
		if msg.Role == conversation.RoleSystem && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func toolInput(args json.RawMessage) json.RawMessage {
	if len(args) == 0 || string(args) == "null" {
		return json.RawMessage("{}")
	}
	return args
}

// resultText unwraps JSON strings so text results are sent as plain text.
func resultText(result json.RawMessage) string {
	var s string
	if err := json.Unmarshal(result, &s); err == nil {
		return s
	}
	return string(result)
}

func isToolError(result json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(result, &obj); err != nil {
		return false
	}
	_, ok := obj["error"]
	return ok && len(obj) == 1
}

// round adapts one Messages stream to transport events. Text deltas are
// forwarded as they arrive; a tool call is emitted once its block is
// complete and the arguments are known.
type round struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	message anthropic.Message
	cur     transport.Event
	err     error
	finish  string
}

func (r *round) Next() bool {
	for r.err == nil && r.stream.Next() {
		event := r.stream.Current()
		if err := r.message.Accumulate(event); err != nil {
			r.err = fmt.Errorf("accumulate stream: %w", err)
			return false
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				r.cur = transport.TextDelta(delta.Text)
				return true
			}
		case anthropic.ContentBlockStopEvent:
			idx := int(ev.Index)
			if idx < len(r.message.Content) && r.message.Content[idx].Type == "tool_use" {
				block := r.message.Content[idx]
				r.cur = transport.ToolCallStart(block.ID, block.Name, toolInput(block.Input))
				return true
			}
		}
	}
	if r.err == nil {
		r.err = r.stream.Err()
	}
	if r.err == nil {
		r.finish = finishReason(r.message.StopReason)
	}
	return false
}

func (r *round) Current() transport.Event { return r.cur }

func (r *round) Err() error { return r.err }

func (r *round) FinishReason() string { return r.finish }

func (r *round) Close() error { return r.stream.Close() }

func finishReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonToolUse:
		return transport.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		return transport.FinishLength
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return transport.FinishStop
	default:
		return transport.FinishUnknown
	}
}
