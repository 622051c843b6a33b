// Package store owns the conversation state of one chat session and applies
// transport events to it, one at a time.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"toolchat/internal/conversation"
	"toolchat/internal/logging"
	"toolchat/internal/transport"
)

// Store accumulates transport events into the conversation. Exactly one turn
// may be active at a time.
type Store struct {
	mu        sync.Mutex
	transport transport.Transport
	state     conversation.State
	active    *Turn
	chatID    string
	newID     func() string
	logger    *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the uuid message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithChatID sets the conversation id sent to the backend.
func WithChatID(id string) Option {
	return func(s *Store) {
		s.chatID = id
	}
}

// New creates an empty store in the ready state.
func New(t transport.Transport, opts ...Option) *Store {
	s := &Store{
		transport: t,
		state:     conversation.State{Status: conversation.StatusReady},
		newID:     uuid.NewString,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chatID == "" {
		s.chatID = s.newID()
	}
	return s
}

// Turn is one submission through to its terminal event. Its ID is the id of
// the assistant message it fills.
type Turn struct {
	ID     string
	UserID string

	stream transport.Stream
	cancel context.CancelFunc
}

// Next advances the turn's event stream.
func (t *Turn) Next() bool { return t.stream.Next() }

// Current returns the event Next advanced to.
func (t *Turn) Current() transport.Event { return t.stream.Current() }

// Err reports why the stream stopped without a terminal event.
func (t *Turn) Err() error { return t.stream.Err() }

// Close cancels the turn's request and releases the stream.
func (t *Turn) Close() error {
	t.cancel()
	return t.stream.Close()
}

// State returns a deep copy of the conversation state.
func (s *Store) State() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// ActiveTurnID returns the id of the running turn, or "" when idle.
func (s *Store) ActiveTurnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

// Submit appends the user message and an empty assistant placeholder, then
// opens the transport stream for the turn. A stream that cannot be opened
// puts the store in the error state and returns a *TransportError.
func (s *Store) Submit(ctx context.Context, text string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil, &InvalidSubmissionError{Reason: "message is empty", Status: s.state.Status}
	}
	if s.state.Status != conversation.StatusReady {
		return nil, &InvalidSubmissionError{
			Reason: "conversation is " + string(s.state.Status),
			Status: s.state.Status,
		}
	}

	user := conversation.Message{ID: s.newID(), Role: conversation.RoleUser, Content: text}
	user.Finalize()
	s.state.Messages = append(s.state.Messages, user)
	history := s.state.Snapshot().Messages

	assistant := conversation.Message{ID: s.newID(), Role: conversation.RoleAssistant}
	s.state.Messages = append(s.state.Messages, assistant)
	s.state.Status = conversation.StatusSubmitting
	s.state.Err = ""

	log := s.logger.With("turn", assistant.ID)
	log.Debug("turn submitted", "history", len(history))

	turnCtx, cancel := context.WithCancel(ctx)
	stream, err := s.transport.Stream(turnCtx, transport.Request{ID: s.chatID, Messages: history, AssistantID: assistant.ID})
	if err != nil {
		cancel()
		log.Error("stream could not be opened", "error", err)
		return nil, s.failLocked(err.Error(), err)
	}

	s.active = &Turn{ID: assistant.ID, UserID: user.ID, stream: stream, cancel: cancel}
	return s.active, nil
}

// Apply applies one event of the given turn. Events are applied in order and
// never retract earlier content.
//
// The returned error is ErrStaleTurn for events of an inactive turn,
// *OrphanToolResultError for unmatched results (the turn continues) and
// *TransportError when the event is an Error.
func (s *Store) Apply(turnID string, ev transport.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ID != turnID {
		return ErrStaleTurn
	}
	msg := s.state.Find(turnID)
	if msg == nil {
		return ErrStaleTurn
	}

	switch ev.Type {
	case transport.EventTextDelta:
		if err := msg.AppendText(ev.Text); err != nil {
			return err
		}
		s.markStreaming()

	case transport.EventToolCallStart:
		if err := msg.StartToolCall(ev.ToolCallID, ev.ToolName, ev.Args); err != nil {
			s.logger.Warn("tool call skipped", "tool_call_id", ev.ToolCallID, "error", err)
			return err
		}
		s.markStreaming()

	case transport.EventToolResult:
		err := msg.ResolveToolCall(ev.ToolCallID, ev.Result)
		if errors.Is(err, conversation.ErrOrphanToolResult) {
			s.logger.Warn("orphan tool result", "tool_call_id", ev.ToolCallID)
			return &OrphanToolResultError{ToolCallID: ev.ToolCallID}
		}
		if err != nil {
			s.logger.Warn("tool result skipped", "tool_call_id", ev.ToolCallID, "error", err)
			return err
		}
		s.markStreaming()

	case transport.EventDone:
		msg.Finalize()
		s.state.Status = conversation.StatusReady
		s.endTurnLocked()
		s.logger.Debug("turn done", "turn", turnID, "finish_reason", ev.FinishReason)

	case transport.EventError:
		return s.failLocked(ev.Reason, nil)
	}
	return nil
}

// Abort cancels the active turn. The partial assistant message is finalized
// and the store returns to ready.
func (s *Store) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return ErrNoActiveTurn
	}
	if msg := s.state.Find(s.active.ID); msg != nil {
		msg.Finalize()
	}
	s.logger.Info("turn aborted", "turn", s.active.ID)
	s.state.Status = conversation.StatusReady
	s.endTurnLocked()
	return nil
}

// ResetError moves the store from error back to ready so the user can
// resubmit. It reports whether a reset happened.
func (s *Store) ResetError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != conversation.StatusError {
		return false
	}
	s.state.Status = conversation.StatusReady
	s.state.Err = ""
	return true
}

// Run submits text and consumes the turn to its end, calling onChange with a
// fresh snapshot after the submission and after every applied event.
func (s *Store) Run(ctx context.Context, text string, onChange func(conversation.State)) error {
	notify := func() {
		if onChange != nil {
			onChange(s.State())
		}
	}

	turn, err := s.Submit(ctx, text)
	notify()
	if err != nil {
		return err
	}
	defer turn.Close()

	for turn.Next() {
		err := s.Apply(turn.ID, turn.Current())
		notify()

		var orphan *OrphanToolResultError
		switch {
		case err == nil, errors.As(err, &orphan):
		case errors.Is(err, ErrStaleTurn):
			return nil
		default:
			var terr *TransportError
			if errors.As(err, &terr) {
				return err
			}
			s.logger.Warn("event skipped", "error", err)
		}
	}

	if err := turn.Err(); err != nil {
		if s.ActiveTurnID() == turn.ID {
			_ = s.Abort()
			notify()
		}
		return err
	}
	if s.ActiveTurnID() == turn.ID {
		err := s.Apply(turn.ID, transport.ErrorEvent("stream ended without a terminal event"))
		notify()
		return err
	}
	return nil
}

func (s *Store) markStreaming() {
	if s.state.Status == conversation.StatusSubmitting {
		s.state.Status = conversation.StatusStreaming
	}
}

// failLocked finalizes the active assistant message and moves to error.
func (s *Store) failLocked(reason string, cause error) error {
	if last := s.state.Last(); last != nil && last.Role == conversation.RoleAssistant {
		last.Finalize()
	}
	s.state.Status = conversation.StatusError
	s.state.Err = reason
	s.endTurnLocked()
	s.logger.Error("turn failed", "reason", reason)
	return &TransportError{Reason: reason, Err: cause}
}

// endTurnLocked cancels the active turn and hands its transport slot back at
// once, so the next Submit is accepted even while a consumer is still
// draining the old stream.
func (s *Store) endTurnLocked() {
	if s.active == nil {
		return
	}
	s.active.cancel()
	if r, ok := s.active.stream.(transport.Releaser); ok {
		r.Release()
	}
	s.active = nil
}
