package chat

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// prose renders assistant replies through glamour. Renderers are kept per
// wrap width because resizing back and forth is common and building one is
// slow.
type prose struct {
	mu    sync.Mutex
	byW   map[int]*glamour.TermRenderer
	width int
	plain bool
}

var replies = &prose{byW: map[int]*glamour.TermRenderer{}}

// SetWrapWidth selects the wrap width used for assistant replies.
func SetWrapWidth(width int) error {
	return replies.setWidth(width)
}

// SetRichText switches markdown rendering of replies on or off.
func SetRichText(on bool) {
	replies.mu.Lock()
	replies.plain = !on
	replies.mu.Unlock()
}

// ToggleRichText flips markdown rendering and reports whether it is now on.
func ToggleRichText() bool {
	replies.mu.Lock()
	defer replies.mu.Unlock()
	replies.plain = !replies.plain
	return !replies.plain
}

func (p *prose) setWidth(width int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byW[width]; !ok {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return err
		}
		p.byW[width] = r
	}
	p.width = width
	return nil
}

// render returns text as styled terminal output, or text unchanged when rich
// text is off, no width was set, or glamour rejects it.
func (p *prose) render(text string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.byW[p.width]
	if p.plain || r == nil {
		return text
	}
	out, err := r.Render(closeFence(text))
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// closeFence terminates a code fence left open by a reply that is still
// streaming, so the partial block renders as code instead of swallowing the
// rest of the message.
func closeFence(text string) string {
	open := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			open = !open
		}
	}
	if !open {
		return text
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + "```"
}
