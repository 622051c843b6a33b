// Package input is the composer. The text lives in a draft.Controller so the
// send rule and the history are shared with non-interactive callers.
package input

import (
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"toolchat/internal/conversation"
	"toolchat/internal/draft"
	"toolchat/internal/styles"
)

// Placeholder is shown in an empty composer.
const Placeholder = "Ask anything, tools will be called as needed"

// Model represents the input component
type Model struct {
	textarea textarea.Model
	draft    *draft.Controller
	width    int
}

// New creates a new input model backed by d.
func New(width int, d *draft.Controller) Model {
	ta := textarea.New()
	ta.Placeholder = Placeholder
	ta.Focus()
	ta.CharLimit = 4096
	ta.SetWidth(textWidth(width))
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetKeys("shift+enter", "ctrl+j")

	ta.FocusedStyle.CursorLine = ta.FocusedStyle.CursorLine.Background(styles.CodeBg)
	ta.FocusedStyle.Placeholder = ta.FocusedStyle.Placeholder.Foreground(styles.Muted)
	ta.BlurredStyle.Placeholder = ta.BlurredStyle.Placeholder.Foreground(styles.Muted)

	return Model{
		textarea: ta,
		draft:    d,
		width:    width,
	}
}

// Init initializes the input component
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles editing keys. Up and down recall sent drafts when the
// composer is empty or already showing a recalled entry.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up":
			if m.textarea.Value() == "" || m.draft.Browsing() {
				if m.draft.Prev() {
					m.sync()
				}
				return m, nil
			}
		case "down":
			if m.draft.Browsing() {
				m.draft.Next()
				m.sync()
				return m, nil
			}
		case "ctrl+u":
			m.draft.Clear()
			m.textarea.Reset()
			return m, nil
		}
	}

	m.textarea, cmd = m.textarea.Update(msg)
	if m.textarea.Value() != m.draft.Text() {
		m.draft.Set(m.textarea.Value())
	}
	return m, cmd
}

// View renders the composer and the send indicator for the given status.
func (m Model) View(status conversation.Status) string {
	if status.InFlight() {
		return styles.InputDisabled.
			Width(m.width - 2).
			Render("Waiting for response... (Esc to stop)")
	}

	send := styles.SendDisabled.Render("send")
	if m.draft.CanSubmit(status) {
		send = styles.SendEnabled.Render("send ⏎")
	}
	prompt := lipgloss.NewStyle().Foreground(styles.Muted).Bold(true).Render("> ")
	row := lipgloss.JoinHorizontal(lipgloss.Bottom, prompt, m.textarea.View(), " ", send)
	return styles.InputBorder.Width(m.width - 2).Render(row)
}

// Value returns the current input value
func (m Model) Value() string {
	return m.textarea.Value()
}

// Reset reloads the textarea from the draft, e.g. after a submission cleared
// it.
func (m *Model) Reset() {
	m.sync()
}

// Focus focuses the textarea.
func (m *Model) Focus() tea.Cmd {
	return m.textarea.Focus()
}

// Blur blurs the textarea.
func (m *Model) Blur() {
	m.textarea.Blur()
}

// SetWidth updates the input width
func (m *Model) SetWidth(width int) {
	m.width = width
	m.textarea.SetWidth(textWidth(width))
}

func (m *Model) sync() {
	m.textarea.SetValue(m.draft.Text())
	m.textarea.CursorEnd()
}

func textWidth(width int) int {
	// border, padding, prompt and the send indicator
	w := width - 16
	if w < 10 {
		w = 10
	}
	return w
}
