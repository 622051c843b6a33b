package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// recorder serves the given bodies, one per request, and keeps the request
// bodies it received.
type recorder struct {
	t      *testing.T
	bodies []string

	mu       sync.Mutex
	requests []string
}

func newRecorder(t *testing.T, bodies ...string) *recorder {
	return &recorder{t: t, bodies: bodies}
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	assert.NoError(rec.t, err)

	rec.mu.Lock()
	rec.requests = append(rec.requests, string(raw))
	i := len(rec.requests) - 1
	rec.mu.Unlock()

	if i >= len(rec.bodies) {
		http.Error(w, "no more rounds", http.StatusGone)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, rec.bodies[i])
}

func (rec *recorder) Requests() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]string(nil), rec.requests...)
}

func TestClient_StreamText(t *testing.T) {
	rec := newRecorder(t, "0:\"Hi\"\n0:\" there\"\nd:{\"finishReason\":\"stop\"}\n")
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithBody("model", "gpt-test"), WithHeader("X-Test", "1"))
	s, err := c.Stream(context.Background(), Request{ID: "chat-1", Messages: userHistory()})
	require.NoError(t, err)
	assert.True(t, c.InFlight())

	events := collect(s)
	require.NoError(t, s.Err())
	assert.Equal(t, []Event{TextDelta("Hi"), TextDelta(" there"), Done(FinishStop)}, events)
	assert.False(t, c.InFlight())

	requests := rec.Requests()
	require.Len(t, requests, 1)
	body := requests[0]
	assert.Equal(t, "chat-1", gjson.Get(body, "id").String())
	assert.Equal(t, "gpt-test", gjson.Get(body, "model").String())
	assert.Equal(t, "user", gjson.Get(body, "messages.0.role").String())
	assert.Equal(t, "hi", gjson.Get(body, "messages.0.content").String())
}

func TestClient_ConcurrentStreamRejected(t *testing.T) {
	rec := newRecorder(t, "d:{\"finishReason\":\"stop\"}\n")
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL)
	first, err := c.Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), Request{Messages: userHistory()})
	var concurrent *ConcurrentStreamError
	require.True(t, errors.As(err, &concurrent))

	// the first stream is unaffected
	assert.Equal(t, []Event{Done(FinishStop)}, collect(first))

	second, err := c.Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)
	require.NoError(t, second.Close())
	assert.False(t, c.InFlight())
}

func TestClient_SlotFreedWhenTerminalEventDelivered(t *testing.T) {
	rec := newRecorder(t, "0:\"Hi\"\nd:{\"finishReason\":\"stop\"}\n", "d:{\"finishReason\":\"stop\"}\n")
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL)
	s, err := c.Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)

	require.True(t, s.Next())
	require.True(t, s.Next())
	require.Equal(t, Done(FinishStop), s.Current())
	// no further Next or Close
	assert.False(t, c.InFlight())

	next, err := c.Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)
	assert.Equal(t, []Event{Done(FinishStop)}, collect(next))
	require.NoError(t, s.Close())
}

func TestClient_SlotFreedOnCancel(t *testing.T) {
	rec := newRecorder(t, "0:\"Hi\"\nd:{\"finishReason\":\"stop\"}\n")
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.Stream(ctx, Request{Messages: userHistory()})
	require.NoError(t, err)
	require.True(t, s.Next())

	cancel()
	assert.Eventually(t, func() bool { return !c.InFlight() }, time.Second, 5*time.Millisecond)

	next, err := c.Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)
	require.NoError(t, next.Close())
	require.NoError(t, s.Close())
}

func TestClient_WeatherToolScenario(t *testing.T) {
	rec := newRecorder(t,
		"9:{\"toolCallId\":\"t1\",\"toolName\":\"getWeather\",\"args\":{\"city\":\"NYC\"}}\n"+
			"a:{\"toolCallId\":\"t1\",\"result\":{\"tempF\":72}}\n"+
			"e:{\"finishReason\":\"tool-calls\",\"isContinued\":false}\n"+
			"d:{\"finishReason\":\"tool-calls\"}\n",
		"0:\"It is 72F in NYC.\"\nd:{\"finishReason\":\"stop\"}\n",
	)
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := NewClient(srv.URL)
	s, err := c.Stream(context.Background(), Request{Messages: userHistory(), AssistantID: "a1"})
	require.NoError(t, err)

	events := collect(s)
	require.Len(t, events, 4)
	assert.Equal(t, EventToolCallStart, events[0].Type)
	assert.Equal(t, EventToolResult, events[1].Type)
	assert.Equal(t, TextDelta("It is 72F in NYC."), events[2])
	assert.Equal(t, Done(FinishStop), events[3])

	requests := rec.Requests()
	require.Len(t, requests, 2)
	cont := requests[1]
	assert.Equal(t, "assistant", gjson.Get(cont, "messages.1.role").String())
	assert.Equal(t, "a1", gjson.Get(cont, "messages.1.id").String())
	assert.Equal(t, "result", gjson.Get(cont, "messages.1.toolInvocations.0.state").String())
	assert.Equal(t, int64(72), gjson.Get(cont, "messages.1.toolInvocations.0.result.tempF").Int())
}

func TestClient_ClientSideToolExecution(t *testing.T) {
	rec := newRecorder(t,
		"9:{\"toolCallId\":\"t1\",\"toolName\":\"list\",\"args\":{}}\nd:{\"finishReason\":\"tool-calls\"}\n",
		"0:\"Two files.\"\nd:{\"finishReason\":\"stop\"}\n",
	)
	srv := httptest.NewServer(rec)
	defer srv.Close()

	exec := executorFunc(func(_ context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"a.go\nb.go"`), nil
	})
	c := NewClient(srv.URL, WithToolExecutor(exec))
	s, err := c.Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)

	events := collect(s)
	require.Len(t, events, 4)
	assert.Equal(t, ToolResult("t1", json.RawMessage(`"a.go\nb.go"`)), events[1])
	requests := rec.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "a.go\nb.go", gjson.Get(requests[1], "messages.1.toolInvocations.0.result").String())
}

func TestClient_HTTPErrorBecomesErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	s, err := c.Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)

	events := collect(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "HTTP 500: upstream exploded", events[0].Reason)
	assert.False(t, c.InFlight())
}

func TestClient_ProtocolErrorMidStream(t *testing.T) {
	rec := newRecorder(t, "0:\"partial\"\nzz:garbage\n")
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s, err := NewClient(srv.URL).Stream(context.Background(), Request{Messages: userHistory()})
	require.NoError(t, err)

	events := collect(s)
	require.Len(t, events, 2)
	assert.Equal(t, TextDelta("partial"), events[0])
	assert.Equal(t, EventError, events[1].Type)
	assert.True(t, strings.Contains(events[1].Reason, ErrProtocol.Error()))
}

func TestClient_CancelMidStream(t *testing.T) {
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0:\"first\"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	}))
	defer srv.Close()
	defer close(unblock)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL)
	s, err := c.Stream(ctx, Request{Messages: userHistory()})
	require.NoError(t, err)

	require.True(t, s.Next())
	assert.Equal(t, TextDelta("first"), s.Current())

	cancel()
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), context.Canceled)
	assert.False(t, c.InFlight())
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).Health(context.Background()))

	srv.Close()
	assert.Error(t, NewClient(srv.URL).Health(context.Background()))
}
