// Package transport streams chat completions from a backend and turns the
// wire format into an ordered sequence of typed events.
//
// A Transport opens one Stream per turn. A Stream is a pull iterator:
//
//	stream, err := client.Stream(ctx, transport.Request{Messages: history})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    ev := stream.Current()
//	    // apply ev
//	}
//	if err := stream.Err(); err != nil {
//	    // only cancellation ends a stream without a Done or Error event
//	}
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"toolchat/internal/conversation"
)

// EventType identifies the kind of a stream event.
type EventType int

const (
	EventTextDelta EventType = iota
	EventToolCallStart
	EventToolResult
	EventDone
	EventError
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text-delta"
	case EventToolCallStart:
		return "tool-call-start"
	case EventToolResult:
		return "tool-result"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Finish reasons reported by backends.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
	FinishLength    = "length"
	FinishUnknown   = "unknown"
)

// Event is one incremental update of a turn. Which fields are set depends on Type.
type Event struct {
	Type EventType

	// EventTextDelta
	Text string

	// EventToolCallStart / EventToolResult
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Result     json.RawMessage

	// EventDone
	FinishReason string

	// EventError
	Reason string
}

// Terminal reports whether the event ends the turn.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// TextDelta creates a text fragment event.
func TextDelta(s string) Event {
	return Event{Type: EventTextDelta, Text: s}
}

// ToolCallStart creates a tool call event.
func ToolCallStart(id, name string, args json.RawMessage) Event {
	return Event{Type: EventToolCallStart, ToolCallID: id, ToolName: name, Args: args}
}

// ToolResult creates a tool result event.
func ToolResult(id string, result json.RawMessage) Event {
	return Event{Type: EventToolResult, ToolCallID: id, Result: result}
}

// Done creates the successful terminal event.
func Done(finishReason string) Event {
	return Event{Type: EventDone, FinishReason: finishReason}
}

// ErrorEvent creates the failed terminal event.
func ErrorEvent(reason string) Event {
	return Event{Type: EventError, Reason: reason}
}

// Request is the input of one turn.
type Request struct {
	// ID identifies the conversation on the backend.
	ID string
	// Messages is the history, ending with the newly submitted user message.
	Messages []conversation.Message
	// AssistantID is the id of the assistant message this turn produces.
	AssistantID string
}

// Transport opens one event stream per turn.
type Transport interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream is a lazy, ordered, finite sequence of events, consumed once.
type Stream interface {
	// Next advances to the next event, blocking until it arrives.
	Next() bool
	// Current returns the event Next advanced to.
	Current() Event
	// Err returns the error that stopped the stream without a terminal event.
	Err() error
	// Close releases the underlying connection. It is safe to call twice.
	Close() error
}

// Releaser is implemented by streams that can hand back their transport's
// in-flight slot before they are drained or closed. Release is safe to call
// from any goroutine and more than once.
type Releaser interface {
	Release()
}

// ToolExecutor runs a tool call locally and returns its JSON result.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// ErrProtocol marks malformed or unexpected wire data.
var ErrProtocol = errors.New("protocol violation")

// ConcurrentStreamError is returned when a stream is requested while another
// one is still in flight on the same transport instance.
type ConcurrentStreamError struct{}

func (e *ConcurrentStreamError) Error() string {
	return "transport: a stream is already in flight"
}
