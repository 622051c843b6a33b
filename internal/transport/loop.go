package transport

import (
	"context"
	"encoding/json"
	"sync"

	"toolchat/internal/conversation"
	"toolchat/internal/logging"
)

// DefaultMaxSteps bounds the request/response rounds of a single turn.
const DefaultMaxSteps = 3

// Round is one request/response exchange inside a turn. It yields text,
// tool call and tool result events, and at most one Error event.
type Round interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
	// FinishReason is valid once Next has returned false.
	FinishReason() string
}

// Opener opens a round for the given history. Continuation rounds receive the
// history with the in-progress assistant message appended.
type Opener func(ctx context.Context, history []conversation.Message) (Round, error)

// LoopConfig controls the continuation behavior of a turn.
type LoopConfig struct {
	// AssistantID is the id of the assistant message the turn fills. It is
	// sent with the message in continuation rounds.
	AssistantID string
	MaxSteps    int
	Executor    ToolExecutor
	Logger      *logging.Logger
}

// loop chains rounds into one Stream. After a round that finishes with tool
// calls it runs unresolved calls through the executor and, when every call
// has a result, opens the next round until MaxSteps is reached.
type loop struct {
	ctx     context.Context
	open    Opener
	cfg     LoopConfig
	history []conversation.Message

	assistant conversation.Message
	round     Round
	steps     int
	queue     []Event
	cur       Event
	err       error
	ended     bool

	release     func()
	releaseOnce sync.Once
	stopRelease func() bool
}

// NewLoop returns a Stream that drives rounds produced by open. release is
// called once: when the terminal event is handed out, when the stream is
// closed, or when ctx is cancelled, whichever comes first.
func NewLoop(ctx context.Context, history []conversation.Message, open Opener, cfg LoopConfig, release func()) Stream {
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	l := &loop{
		ctx:       ctx,
		open:      open,
		cfg:       cfg,
		history:   history,
		assistant: conversation.Message{ID: cfg.AssistantID, Role: conversation.RoleAssistant},
		release:   release,
	}
	l.stopRelease = context.AfterFunc(ctx, l.releaseSlot)
	return l
}

func (l *loop) Next() bool {
	for {
		if l.ended || l.err != nil {
			l.finish()
			return false
		}
		if err := l.ctx.Err(); err != nil {
			l.err = err
			continue
		}

		if len(l.queue) > 0 {
			l.cur = l.queue[0]
			l.queue = l.queue[1:]
			if l.cur.Terminal() {
				l.ended = true
				l.closeRound()
				l.releaseSlot()
			}
			return true
		}

		if l.round == nil {
			if err := l.openRound(); err != nil {
				l.fail(err)
			}
			continue
		}

		if l.round.Next() {
			ev := l.round.Current()
			l.track(ev)
			if ev.Type == EventDone {
				continue
			}
			l.cur = ev
			if ev.Terminal() {
				l.ended = true
				l.closeRound()
				l.releaseSlot()
			}
			return true
		}

		reason := l.round.FinishReason()
		err := l.round.Err()
		l.closeRound()
		if err != nil {
			l.fail(err)
			continue
		}
		l.afterRound(reason)
	}
}

func (l *loop) Current() Event { return l.cur }

var _ Releaser = (*loop)(nil)

// Release frees the transport slot without touching the round, so a consumer
// blocked in Next is unaffected.
func (l *loop) Release() { l.releaseSlot() }

func (l *loop) Err() error { return l.err }

func (l *loop) Close() error {
	l.closeRound()
	l.finish()
	return nil
}

func (l *loop) openRound() error {
	history := l.history
	if l.steps > 0 {
		history = append(append([]conversation.Message(nil), l.history...), l.assistant.Clone())
	}
	r, err := l.open(l.ctx, history)
	if err != nil {
		return err
	}
	l.steps++
	l.round = r
	l.cfg.Logger.Debug("round opened", "step", l.steps, "max_steps", l.cfg.MaxSteps)
	return nil
}

// track mirrors delivered events into the loop's own copy of the assistant
// message so continuation rounds can resend it.
func (l *loop) track(ev Event) {
	var err error
	switch ev.Type {
	case EventTextDelta:
		err = l.assistant.AppendText(ev.Text)
	case EventToolCallStart:
		err = l.assistant.StartToolCall(ev.ToolCallID, ev.ToolName, ev.Args)
	case EventToolResult:
		err = l.assistant.ResolveToolCall(ev.ToolCallID, ev.Result)
	}
	if err != nil {
		l.cfg.Logger.Debug("event not tracked", "type", ev.Type.String(), "tool_call_id", ev.ToolCallID, "error", err)
	}
}

func (l *loop) afterRound(reason string) {
	if reason != FinishToolCalls {
		l.queue = append(l.queue, Done(reason))
		return
	}

	for _, call := range l.assistant.PendingToolCalls() {
		if l.cfg.Executor == nil {
			break
		}
		result := l.execute(call)
		if l.ctx.Err() != nil {
			return
		}
		ev := ToolResult(call.ToolCallID, result)
		l.track(ev)
		l.queue = append(l.queue, ev)
	}

	if pending := l.assistant.PendingToolCalls(); len(pending) > 0 {
		l.cfg.Logger.Warn("tool calls left unresolved", "count", len(pending))
		l.queue = append(l.queue, Done(reason))
		return
	}
	if l.steps >= l.cfg.MaxSteps {
		l.cfg.Logger.Warn("step limit reached, ending turn with partial content", "max_steps", l.cfg.MaxSteps)
		l.queue = append(l.queue, Done(reason))
		return
	}
	// round stays nil; the next call to Next opens a continuation round
}

func (l *loop) execute(call conversation.ToolInvocation) json.RawMessage {
	l.cfg.Logger.Debug("executing tool locally", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
	result, err := l.cfg.Executor.Execute(l.ctx, call.ToolName, call.Args)
	if err != nil {
		l.cfg.Logger.Warn("tool execution failed", "tool", call.ToolName, "error", err)
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		return data
	}
	return result
}

func (l *loop) fail(err error) {
	if ctxErr := l.ctx.Err(); ctxErr != nil {
		l.err = ctxErr
		return
	}
	l.cfg.Logger.Error("turn failed", "error", err)
	l.queue = append(l.queue, ErrorEvent(err.Error()))
}

func (l *loop) closeRound() {
	if l.round != nil {
		_ = l.round.Close()
		l.round = nil
	}
}

func (l *loop) finish() {
	l.closeRound()
	l.stopRelease()
	l.releaseSlot()
}

// releaseSlot runs release once. It may be called from the context's
// AfterFunc goroutine, so it touches nothing but the once.
func (l *loop) releaseSlot() {
	l.releaseOnce.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}
