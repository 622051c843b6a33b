package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"toolchat/internal/logging"
)

// Data stream part codes. Each response line is "<code>:<json>\n".
const (
	PartText          = "0"
	PartData          = "2"
	PartError         = "3"
	PartAnnotation    = "8"
	PartToolCall      = "9"
	PartToolResult    = "a"
	PartToolCallStart = "b"
	PartToolCallDelta = "c"
	PartFinishMessage = "d"
	PartFinishStep    = "e"
	PartStartStep     = "f"
	PartReasoning     = "g"
	PartSource        = "h"
	PartRedacted      = "i"
	PartReasoningSig  = "j"
	PartFile          = "k"
)

type toolCallPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

type toolResultPart struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

// dataStreamRound decodes one data stream response body.
type dataStreamRound struct {
	body   io.ReadCloser
	reader *bufio.Reader
	logger *logging.Logger

	cur      Event
	err      error
	finish   string
	finished bool
}

func newDataStreamRound(body io.ReadCloser, logger *logging.Logger) *dataStreamRound {
	if logger == nil {
		logger = logging.Nop()
	}
	return &dataStreamRound{
		body:   body,
		reader: bufio.NewReader(body),
		logger: logger,
	}
}

func (r *dataStreamRound) Next() bool {
	for !r.finished && r.err == nil {
		line, readErr := r.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line != "" {
			ev, ok, err := r.decode(line)
			if err != nil {
				r.err = err
				return false
			}
			if ok {
				r.cur = ev
				if readErr == io.EOF {
					r.endOfBody()
				}
				return true
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				r.endOfBody()
			} else {
				r.err = fmt.Errorf("read stream: %w", readErr)
			}
		}
	}
	return false
}

func (r *dataStreamRound) Current() Event { return r.cur }

func (r *dataStreamRound) Err() error { return r.err }

func (r *dataStreamRound) FinishReason() string { return r.finish }

func (r *dataStreamRound) Close() error {
	return r.body.Close()
}

func (r *dataStreamRound) endOfBody() {
	if !r.finished {
		r.finished = true
		if r.finish == "" {
			r.logger.Warn("stream ended without finish part")
			r.finish = FinishUnknown
		}
	}
}

// decode converts one line into an event. ok is false for parts that carry
// no event of their own.
func (r *dataStreamRound) decode(line string) (ev Event, ok bool, err error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return Event{}, false, fmt.Errorf("%w: malformed line %q", ErrProtocol, truncate(line, 40))
	}
	code, payload := line[:idx], line[idx+1:]
	if !gjson.Valid(payload) {
		return Event{}, false, fmt.Errorf("%w: invalid JSON in %q part", ErrProtocol, code)
	}

	switch code {
	case PartText:
		var text string
		if err := json.Unmarshal([]byte(payload), &text); err != nil {
			return Event{}, false, fmt.Errorf("%w: text part: %v", ErrProtocol, err)
		}
		return TextDelta(text), true, nil

	case PartToolCall:
		var part toolCallPart
		if err := json.Unmarshal([]byte(payload), &part); err != nil || part.ToolCallID == "" {
			return Event{}, false, fmt.Errorf("%w: tool call part: %s", ErrProtocol, truncate(payload, 80))
		}
		return ToolCallStart(part.ToolCallID, part.ToolName, part.Args), true, nil

	case PartToolResult:
		var part toolResultPart
		if err := json.Unmarshal([]byte(payload), &part); err != nil || part.ToolCallID == "" {
			return Event{}, false, fmt.Errorf("%w: tool result part: %s", ErrProtocol, truncate(payload, 80))
		}
		return ToolResult(part.ToolCallID, part.Result), true, nil

	case PartError:
		reason := gjson.Parse(payload).String()
		if reason == "" {
			reason = "backend reported an error"
		}
		return ErrorEvent(reason), true, nil

	case PartFinishStep:
		r.logger.Debug("step finished",
			"finish_reason", gjson.Get(payload, "finishReason").String(),
			"continued", gjson.Get(payload, "isContinued").Bool(),
		)
		return Event{}, false, nil

	case PartFinishMessage:
		r.finish = gjson.Get(payload, "finishReason").String()
		if r.finish == "" {
			r.finish = FinishUnknown
		}
		r.finished = true
		return Event{}, false, nil

	case PartStartStep:
		r.logger.Debug("step started", "message_id", gjson.Get(payload, "messageId").String())
		return Event{}, false, nil

	case PartToolCallStart, PartToolCallDelta, PartData, PartAnnotation,
		PartReasoning, PartSource, PartRedacted, PartReasoningSig, PartFile:
		r.logger.Debug("part ignored", "code", code)
		return Event{}, false, nil
	}

	return Event{}, false, fmt.Errorf("%w: unknown part code %q", ErrProtocol, code)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
