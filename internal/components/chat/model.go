// Package chat renders the conversation view model in a scrollable viewport.
package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"toolchat/internal/viewmodel"
)

// Model represents the chat component
type Model struct {
	viewport  viewport.Model
	items     []viewmodel.Item
	collapsed bool
	width     int
	height    int
}

// New creates a new chat model
func New(width, height int) Model {
	vp := viewport.New(width, height)
	vp.SetContent("")

	return Model{
		viewport: vp,
		width:    width,
		height:   height,
	}
}

// Init initializes the chat component
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles scrolling.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "pgup":
			m.viewport.ViewUp()
			return m, nil
		case "pgdown":
			m.viewport.ViewDown()
			return m, nil
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the chat component
func (m Model) View() string {
	return m.viewport.View()
}

// SetItems replaces the displayed items. The view follows the bottom unless
// the user scrolled away from it.
func (m *Model) SetItems(items []viewmodel.Item) {
	follow := m.viewport.AtBottom() || len(m.items) == 0
	m.items = items
	m.updateContent()
	if follow {
		m.viewport.GotoBottom()
	}
}

// ToggleTools collapses or expands every tool block and returns whether they
// are now collapsed.
func (m *Model) ToggleTools() bool {
	m.collapsed = !m.collapsed
	m.updateContent()
	return m.collapsed
}

// Collapsed reports whether tool blocks are collapsed.
func (m Model) Collapsed() bool { return m.collapsed }

// SetSize updates the chat dimensions
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
	_ = SetWrapWidth(markdownWidth(width))
	m.updateContent()
}

// IsEmpty returns true if there are no items
func (m Model) IsEmpty() bool {
	return len(m.items) == 0
}

// Content returns the rendered transcript.
func (m Model) Content() string {
	var content strings.Builder
	for i, item := range m.items {
		content.WriteString(renderItem(item, m.width, m.collapsed))
		if i < len(m.items)-1 {
			content.WriteString("\n\n")
		}
	}
	return content.String()
}

func (m *Model) updateContent() {
	m.viewport.SetContent(m.Content())
}

func markdownWidth(width int) int {
	if width < 24 {
		return 20
	}
	return width - 4
}
