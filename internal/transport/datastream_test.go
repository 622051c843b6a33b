package transport

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainRound(t *testing.T, body string) ([]Event, *dataStreamRound) {
	t.Helper()
	r := newDataStreamRound(io.NopCloser(strings.NewReader(body)), nil)
	var events []Event
	for r.Next() {
		events = append(events, r.Current())
	}
	require.NoError(t, r.Close())
	return events, r
}

func TestDataStreamRound_TextAndFinish(t *testing.T) {
	body := "f:{\"messageId\":\"msg-1\"}\n" +
		"0:\"Hello\"\n" +
		"0:\", world\"\n" +
		"e:{\"finishReason\":\"stop\",\"isContinued\":false}\n" +
		"d:{\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":3}}\n"

	events, r := drainRound(t, body)
	require.NoError(t, r.Err())
	require.Len(t, events, 2)
	assert.Equal(t, TextDelta("Hello"), events[0])
	assert.Equal(t, TextDelta(", world"), events[1])
	assert.Equal(t, FinishStop, r.FinishReason())
}

func TestDataStreamRound_ToolParts(t *testing.T) {
	body := "9:{\"toolCallId\":\"t1\",\"toolName\":\"getWeather\",\"args\":{\"city\":\"NYC\"}}\n" +
		"a:{\"toolCallId\":\"t1\",\"result\":{\"tempF\":72}}\n" +
		"d:{\"finishReason\":\"tool-calls\"}\n"

	events, r := drainRound(t, body)
	require.NoError(t, r.Err())
	require.Len(t, events, 2)

	assert.Equal(t, EventToolCallStart, events[0].Type)
	assert.Equal(t, "t1", events[0].ToolCallID)
	assert.Equal(t, "getWeather", events[0].ToolName)
	assert.JSONEq(t, `{"city":"NYC"}`, string(events[0].Args))

	assert.Equal(t, EventToolResult, events[1].Type)
	assert.JSONEq(t, `{"tempF":72}`, string(events[1].Result))
	assert.Equal(t, FinishToolCalls, r.FinishReason())
}

func TestDataStreamRound_ErrorPart(t *testing.T) {
	events, r := drainRound(t, "0:\"partial\"\n3:\"rate limited\"\n")
	require.NoError(t, r.Err())
	require.Len(t, events, 2)
	assert.Equal(t, ErrorEvent("rate limited"), events[1])
}

func TestDataStreamRound_IgnoredParts(t *testing.T) {
	body := "2:[{\"x\":1}]\n" +
		"8:[{\"note\":true}]\n" +
		"b:{\"toolCallId\":\"t1\",\"toolName\":\"list\"}\n" +
		"c:{\"toolCallId\":\"t1\",\"argsTextDelta\":\"{}\"}\n" +
		"g:\"thinking\"\n" +
		"0:\"ok\"\n" +
		"d:{\"finishReason\":\"stop\"}\n"

	events, r := drainRound(t, body)
	require.NoError(t, r.Err())
	assert.Equal(t, []Event{TextDelta("ok")}, events)
}

func TestDataStreamRound_MissingFinish(t *testing.T) {
	// last line without trailing newline
	events, r := drainRound(t, "0:\"a\"\n0:\"b\"")
	require.NoError(t, r.Err())
	assert.Len(t, events, 2)
	assert.Equal(t, FinishUnknown, r.FinishReason())
}

func TestDataStreamRound_StopsAtFinish(t *testing.T) {
	events, r := drainRound(t, "0:\"a\"\nd:{\"finishReason\":\"stop\"}\n0:\"late\"\n")
	require.NoError(t, r.Err())
	assert.Equal(t, []Event{TextDelta("a")}, events)
}

func TestDataStreamRound_ProtocolErrors(t *testing.T) {
	tests := map[string]string{
		"unknown code":      "z:\"x\"\n",
		"no separator":      "hello\n",
		"invalid json":      "0:{not json\n",
		"text not a string": "0:42\n",
		"tool call no id":   "9:{\"toolName\":\"list\"}\n",
		"tool result no id": "a:{\"result\":1}\n",
		"empty code":        ":\"x\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, r := drainRound(t, body)
			assert.ErrorIs(t, r.Err(), ErrProtocol)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
