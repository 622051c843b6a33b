package store

import (
	"errors"
	"fmt"

	"toolchat/internal/conversation"
)

var (
	// ErrStaleTurn is returned when an event arrives for a turn that has
	// already ended or was aborted.
	ErrStaleTurn = errors.New("event for inactive turn")
	// ErrNoActiveTurn is returned when there is nothing to abort.
	ErrNoActiveTurn = errors.New("no active turn")
)

// InvalidSubmissionError is returned when a submission is rejected. The
// conversation state is left untouched.
type InvalidSubmissionError struct {
	Reason string
	Status conversation.Status
}

func (e *InvalidSubmissionError) Error() string {
	return "invalid submission: " + e.Reason
}

// OrphanToolResultError is returned when a tool result names a call the
// active assistant message does not have. The turn continues.
type OrphanToolResultError struct {
	ToolCallID string
}

func (e *OrphanToolResultError) Error() string {
	return fmt.Sprintf("orphan tool result for call %q", e.ToolCallID)
}

func (e *OrphanToolResultError) Unwrap() error {
	return conversation.ErrOrphanToolResult
}

// TransportError carries a backend or network failure that ended a turn.
// Partial content stays in the conversation.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Reason
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
