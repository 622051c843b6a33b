package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"toolchat/internal/components/chat"
	"toolchat/internal/conversation"
	"toolchat/internal/styles"
)

// Title is the header and sidebar title.
const Title = "Orchestration Demo"

// View renders the application
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := styles.Header.Render(Title)
	if m.backend != "" {
		header += styles.StatusBar.Render(m.backend)
	}

	chatHeight := m.height - headerHeight - inputHeight - statusHeight
	if chatHeight < 5 {
		chatHeight = 5
	}

	// Chat area
	chatView := m.chat.View()
	if m.empty {
		chatView = lipgloss.Place(m.mainWidth(), chatHeight, lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center,
				styles.WelcomeTitle.Render(chat.WelcomeTitle),
				"",
				styles.WelcomeBody.Render(chat.WelcomeText),
			))
	}
	main := lipgloss.JoinVertical(lipgloss.Left, chatView, m.input.View(m.status))

	body := main
	if m.width >= sidebarMinWidth {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(chatHeight+inputHeight), main)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusBar())
}

func (m Model) renderSidebar(height int) string {
	lines := []string{
		styles.SidebarTitle.Render(Title),
		"",
		styles.SidebarActive.Render("▌ Current conversation"),
	}
	content := strings.Join(lines, "\n")
	footer := styles.WelcomeBody.Render("Tool-calling AI assistant")

	gap := height - lipgloss.Height(content) - lipgloss.Height(footer)
	if gap < 1 {
		gap = 1
	}
	content += strings.Repeat("\n", gap) + footer
	return styles.Sidebar.Width(sidebarWidth - 1).Height(height).Render(content)
}

// renderStatusBar renders the status bar at the bottom
func (m Model) renderStatusBar() string {
	var status string
	var statusStyle lipgloss.Style

	switch m.status {
	case conversation.StatusReady:
		status = "Ready"
		statusStyle = styles.StatusBar
	case conversation.StatusSubmitting:
		status = m.spinner.View() + " Submitting..."
		statusStyle = styles.StatusBarStreaming
	case conversation.StatusStreaming:
		status = m.spinner.View() + " Streaming..."
		statusStyle = styles.StatusBarStreaming
	case conversation.StatusError:
		status = fmt.Sprintf("Error: %s (Esc to dismiss)", m.errText)
		statusStyle = styles.StatusBarError
	}

	left := statusStyle.Render(status)

	toggle := "Ctrl+T: hide tools"
	if m.chat.Collapsed() {
		toggle = "Ctrl+T: show tools"
	}
	help := styles.StatusBar.Render("Enter: send • " + toggle + " • Ctrl+C: quit")

	spacerWidth := m.width - lipgloss.Width(left) - lipgloss.Width(help)
	if spacerWidth < 0 {
		spacerWidth = 0
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, strings.Repeat(" ", spacerWidth), help)
}
