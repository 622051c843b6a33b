package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolchat/internal/conversation"
	"toolchat/internal/transport"
)

// scriptTransport replays a fixed event list for each stream it opens.
type scriptTransport struct {
	events  []transport.Event
	openErr error
	reqs    []transport.Request
}

func (t *scriptTransport) Stream(ctx context.Context, req transport.Request) (transport.Stream, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	t.reqs = append(t.reqs, req)
	return &sliceStream{ctx: ctx, events: t.events}, nil
}

type sliceStream struct {
	ctx    context.Context
	events []transport.Event
	cur    transport.Event
	err    error
}

func (s *sliceStream) Next() bool {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if len(s.events) == 0 {
		return false
	}
	s.cur, s.events = s.events[0], s.events[1:]
	return true
}

func (s *sliceStream) Current() transport.Event { return s.cur }
func (s *sliceStream) Err() error               { return s.err }
func (s *sliceStream) Close() error             { return nil }

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
}

func newTestStore(events ...transport.Event) (*Store, *scriptTransport) {
	tr := &scriptTransport{events: events}
	return New(tr, WithIDGenerator(seqIDs()), WithChatID("chat")), tr
}

func TestSubmit_AppendsUserAndPlaceholder(t *testing.T) {
	s, tr := newTestStore()

	turn, err := s.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "m2", turn.ID)
	assert.Equal(t, "m1", turn.UserID)

	st := s.State()
	assert.Equal(t, conversation.StatusSubmitting, st.Status)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, conversation.Message{ID: "m1", Role: conversation.RoleUser, Content: "hello", Final: true}, st.Messages[0])
	assert.Equal(t, conversation.RoleAssistant, st.Messages[1].Role)
	assert.Empty(t, st.Messages[1].Content)
	assert.False(t, st.Messages[1].Final)

	require.Len(t, tr.reqs, 1)
	assert.Equal(t, "chat", tr.reqs[0].ID)
	require.Len(t, tr.reqs[0].Messages, 1, "the placeholder is not sent")
	assert.Equal(t, "m2", s.ActiveTurnID())
}

func TestSubmit_EmptyTextRejected(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		s, tr := newTestStore()
		before := s.State()

		_, err := s.Submit(context.Background(), text)
		var invalid *InvalidSubmissionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, before, s.State())
		assert.Empty(t, tr.reqs)
	}
}

func TestSubmit_RejectedUnlessReady(t *testing.T) {
	s, _ := newTestStore(transport.TextDelta("partial"))
	turn, err := s.Submit(context.Background(), "first")
	require.NoError(t, err)

	for _, status := range []conversation.Status{conversation.StatusSubmitting, conversation.StatusStreaming} {
		if status == conversation.StatusStreaming {
			require.True(t, turn.Next())
			require.NoError(t, s.Apply(turn.ID, turn.Current()))
		}
		require.Equal(t, status, s.State().Status)

		_, err := s.Submit(context.Background(), "second")
		var invalid *InvalidSubmissionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, status, invalid.Status)
		assert.Len(t, s.State().Messages, 2, "no user message appended")
	}

	var terr *TransportError
	require.ErrorAs(t, s.Apply(turn.ID, transport.ErrorEvent("boom")), &terr)
	assert.Equal(t, conversation.StatusError, s.State().Status)
	_, err = s.Submit(context.Background(), "third")
	var invalid *InvalidSubmissionError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, s.State().Messages, 2)
}

func TestApply_TextDeltasConcatenate(t *testing.T) {
	deltas := []string{"The", " quick", "", " brown", " fox", " ✓"}
	s, _ := newTestStore()
	turn, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)

	want := ""
	for _, d := range deltas {
		require.NoError(t, s.Apply(turn.ID, transport.TextDelta(d)))
		want += d
		// every intermediate state is a prefix of the final content
		assert.Equal(t, want, s.State().Messages[1].Content)
	}
	assert.Equal(t, "The quick brown fox ✓", s.State().Messages[1].Content)
}

func TestApply_FirstContentEventStartsStreaming(t *testing.T) {
	s, _ := newTestStore()
	turn, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusSubmitting, s.State().Status)

	require.NoError(t, s.Apply(turn.ID, transport.ToolCallStart("t1", "list", nil)))
	assert.Equal(t, conversation.StatusStreaming, s.State().Status)
}

func TestApply_OrphanToolResult(t *testing.T) {
	s, _ := newTestStore()
	turn, err := s.Submit(context.Background(), "weather?")
	require.NoError(t, err)

	err = s.Apply(turn.ID, transport.ToolResult("t1", json.RawMessage(`{"tempF":72}`)))
	var orphan *OrphanToolResultError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, "t1", orphan.ToolCallID)
	assert.ErrorIs(t, err, conversation.ErrOrphanToolResult)
	assert.Empty(t, s.State().Messages[1].ToolInvocations)

	// the turn continues
	require.NoError(t, s.Apply(turn.ID, transport.ToolCallStart("t1", "getWeather", json.RawMessage(`{"city":"NYC"}`))))
	require.NoError(t, s.Apply(turn.ID, transport.ToolResult("t1", json.RawMessage(`{"tempF":72}`))))
	require.NoError(t, s.Apply(turn.ID, transport.Done(transport.FinishStop)))

	invs := s.State().Messages[1].ToolInvocations
	require.Len(t, invs, 1)
	assert.Equal(t, conversation.StateResult, invs[0].State)
}

func TestApply_DuplicateToolCallSkipped(t *testing.T) {
	s, _ := newTestStore()
	turn, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)

	require.NoError(t, s.Apply(turn.ID, transport.ToolCallStart("t1", "list", nil)))
	assert.ErrorIs(t, s.Apply(turn.ID, transport.ToolCallStart("t1", "read", nil)), conversation.ErrDuplicateToolCall)
	invs := s.State().Messages[1].ToolInvocations
	require.Len(t, invs, 1)
	assert.Equal(t, "list", invs[0].ToolName)
}

func TestApply_StaleTurn(t *testing.T) {
	s, _ := newTestStore()
	turn, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)
	require.NoError(t, s.Apply(turn.ID, transport.Done(transport.FinishStop)))

	assert.ErrorIs(t, s.Apply(turn.ID, transport.TextDelta("late")), ErrStaleTurn)
	assert.ErrorIs(t, s.Apply("unknown", transport.TextDelta("x")), ErrStaleTurn)
	assert.Empty(t, s.State().Messages[1].Content)
}

func TestScenario_Hello(t *testing.T) {
	s, _ := newTestStore(
		transport.TextDelta("Hi"),
		transport.TextDelta(" there"),
		transport.Done(transport.FinishStop),
	)

	var statuses []conversation.Status
	err := s.Run(context.Background(), "hello", func(st conversation.State) {
		statuses = append(statuses, st.Status)
	})
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, conversation.StatusReady, st.Status)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "Hi there", st.Messages[1].Content)
	assert.True(t, st.Messages[1].Final)
	assert.Equal(t, []conversation.Status{
		conversation.StatusSubmitting,
		conversation.StatusStreaming,
		conversation.StatusStreaming,
		conversation.StatusReady,
	}, statuses)
	assert.Empty(t, s.ActiveTurnID())
}

func TestScenario_Weather(t *testing.T) {
	s, _ := newTestStore(
		transport.ToolCallStart("t1", "getWeather", json.RawMessage(`{"city":"NYC"}`)),
		transport.ToolResult("t1", json.RawMessage(`{"tempF":72}`)),
		transport.TextDelta("It's 72°F."),
		transport.Done(transport.FinishStop),
	)
	require.NoError(t, s.Run(context.Background(), "weather?", nil))

	msg := s.State().Messages[1]
	assert.Equal(t, "It's 72°F.", msg.Content)
	require.Len(t, msg.ToolInvocations, 1)
	inv := msg.ToolInvocations[0]
	assert.Equal(t, "getWeather", inv.ToolName)
	assert.JSONEq(t, `{"city":"NYC"}`, string(inv.Args))
	assert.JSONEq(t, `{"tempF":72}`, string(inv.Result))
}

func TestScenario_NetworkResetThenResubmit(t *testing.T) {
	s, tr := newTestStore(
		transport.TextDelta("Partial"),
		transport.ErrorEvent("network reset"),
	)

	err := s.Run(context.Background(), "tell me", nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "network reset", terr.Reason)

	st := s.State()
	assert.Equal(t, conversation.StatusError, st.Status)
	assert.Equal(t, "network reset", st.Err)
	assert.Equal(t, "Partial", st.Messages[1].Content)

	_, err = s.Submit(context.Background(), "again")
	var invalid *InvalidSubmissionError
	require.ErrorAs(t, err, &invalid)

	assert.True(t, s.ResetError())
	assert.False(t, s.ResetError())
	assert.Equal(t, conversation.StatusReady, s.State().Status)

	tr.events = []transport.Event{transport.TextDelta("Full answer"), transport.Done(transport.FinishStop)}
	require.NoError(t, s.Run(context.Background(), "again", nil))

	st = s.State()
	require.Len(t, st.Messages, 4)
	assert.Equal(t, "Partial", st.Messages[1].Content, "earlier content is kept")
	assert.Equal(t, "Full answer", st.Messages[3].Content)
	require.Len(t, tr.reqs[1].Messages, 3)
}

func TestSubmit_OpenFailureIsTransportError(t *testing.T) {
	s, tr := newTestStore()
	tr.openErr = &transport.ConcurrentStreamError{}

	_, err := s.Submit(context.Background(), "hello")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	var concurrent *transport.ConcurrentStreamError
	assert.True(t, errors.As(err, &concurrent))

	st := s.State()
	assert.Equal(t, conversation.StatusError, st.Status)
	require.Len(t, st.Messages, 2)
	assert.True(t, st.Messages[1].Final)
}

func TestAbort(t *testing.T) {
	s, _ := newTestStore(transport.TextDelta("a"), transport.TextDelta("b"), transport.Done(transport.FinishStop))
	turn, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)

	require.True(t, turn.Next())
	require.NoError(t, s.Apply(turn.ID, turn.Current()))
	require.NoError(t, s.Abort())
	assert.ErrorIs(t, s.Abort(), ErrNoActiveTurn)

	// delivery stops within one step and state stays consistent
	assert.False(t, turn.Next())
	assert.ErrorIs(t, turn.Err(), context.Canceled)
	require.NoError(t, turn.Close())

	st := s.State()
	assert.Equal(t, conversation.StatusReady, st.Status)
	assert.Equal(t, "a", st.Messages[1].Content)
	assert.True(t, st.Messages[1].Final)
	assert.ErrorIs(t, s.Apply(turn.ID, transport.TextDelta("b")), ErrStaleTurn)
}

func TestRun_StreamWithoutTerminalEvent(t *testing.T) {
	s, _ := newTestStore(transport.TextDelta("cut"))

	err := s.Run(context.Background(), "go", nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, conversation.StatusError, s.State().Status)
	assert.Equal(t, "cut", s.State().Messages[1].Content)
}

func TestState_IsSnapshot(t *testing.T) {
	s, _ := newTestStore()
	turn, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)
	require.NoError(t, s.Apply(turn.ID, transport.ToolCallStart("t1", "list", json.RawMessage(`{"path":"."}`))))

	snap := s.State()
	snap.Messages[1].Content = "mutated"
	snap.Messages[1].ToolInvocations[0].Args[2] = 'X'

	fresh := s.State()
	assert.Empty(t, fresh.Messages[1].Content)
	assert.JSONEq(t, `{"path":"."}`, string(fresh.Messages[1].ToolInvocations[0].Args))
}

func TestNew_DefaultIDs(t *testing.T) {
	s := New(&scriptTransport{})
	turn, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)
	assert.Len(t, turn.ID, 36)
	assert.NotEqual(t, turn.ID, turn.UserID)
}
