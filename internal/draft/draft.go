// Package draft owns the composer text and decides when it may be sent.
package draft

import (
	"context"
	"errors"
	"strings"

	"toolchat/internal/conversation"
	"toolchat/internal/store"
)

// DefaultHistory is the number of sent drafts kept for recall.
const DefaultHistory = 50

// Submitter starts a turn from draft text.
type Submitter interface {
	Submit(ctx context.Context, text string) (*store.Turn, error)
}

// Controller holds the draft text and the history of sent drafts.
type Controller struct {
	text    string
	history []string
	histIdx int
	limit   int
}

// New creates a controller keeping up to limit sent drafts.
func New(limit int) *Controller {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Controller{histIdx: -1, limit: limit}
}

// Text returns the current draft.
func (c *Controller) Text() string { return c.text }

// Set replaces the draft, e.g. after a keystroke.
func (c *Controller) Set(text string) { c.text = text }

// Clear empties the draft and leaves history browsing.
func (c *Controller) Clear() {
	c.text = ""
	c.histIdx = -1
}

// CanSubmit reports whether the send action is enabled.
func (c *Controller) CanSubmit(status conversation.Status) bool {
	return strings.TrimSpace(c.text) != "" && status == conversation.StatusReady
}

// Submit hands the draft to s. The draft is cleared once a turn has been
// accepted and kept when the submission is rejected as invalid.
func (c *Controller) Submit(ctx context.Context, s Submitter) (*store.Turn, error) {
	text := c.text
	turn, err := s.Submit(ctx, text)

	var invalid *store.InvalidSubmissionError
	if errors.As(err, &invalid) {
		return nil, err
	}

	// the user message was appended even if the stream failed to open
	c.remember(text)
	c.Clear()
	return turn, err
}

// Prev steps back through sent drafts and loads the entry into the draft.
// It reports false when there is nothing older.
func (c *Controller) Prev() bool {
	if c.histIdx >= len(c.history)-1 {
		return false
	}
	c.histIdx++
	c.text = c.history[len(c.history)-1-c.histIdx]
	return true
}

// Next steps forward through sent drafts. Stepping past the newest entry
// empties the draft. It reports false when not browsing history.
func (c *Controller) Next() bool {
	if c.histIdx < 0 {
		return false
	}
	if c.histIdx == 0 {
		c.histIdx = -1
		c.text = ""
		return true
	}
	c.histIdx--
	c.text = c.history[len(c.history)-1-c.histIdx]
	return true
}

// Browsing reports whether the draft was loaded from history.
func (c *Controller) Browsing() bool { return c.histIdx >= 0 }

func (c *Controller) remember(text string) {
	if n := len(c.history); n > 0 && c.history[n-1] == text {
		return
	}
	c.history = append(c.history, text)
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}
}
