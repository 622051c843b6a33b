// Package messages defines the tea messages that carry stream traffic into
// the UI loop.
package messages

import "toolchat/internal/transport"

// StreamEventMsg carries one event of the turn TurnID.
type StreamEventMsg struct {
	TurnID string
	Event  transport.Event
}

// StreamEndMsg is sent once the turn's stream is exhausted. Err is the
// stream error, if any.
type StreamEndMsg struct {
	TurnID string
	Err    error
}
