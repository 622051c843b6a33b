// Package styles holds the lipgloss palette and styles of the terminal UI.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary   = lipgloss.Color("#1677ff")
	Secondary = lipgloss.Color("#52c41a")
	Error     = lipgloss.Color("#EF4444")
	Warning   = lipgloss.Color("#F59E0B")
	Muted     = lipgloss.Color("#6B7280")
	Border    = lipgloss.Color("#374151")
	White     = lipgloss.Color("#FFFFFF")
	LightGray = lipgloss.Color("#E5E7EB")
	CodeBg    = lipgloss.Color("#1F2937")

	// Message Styles
	UserMessage = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(White)

	AssistantMessage = lipgloss.NewStyle().
				Padding(0, 1).
				Foreground(LightGray)

	StreamingCursor = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	// Tool block styles
	ToolBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(0, 1)

	ToolName = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	ToolSection = lipgloss.NewStyle().
			Foreground(Muted).
			Bold(true)

	ToolBody = lipgloss.NewStyle().
			Foreground(LightGray)

	ToolPending = lipgloss.NewStyle().
			Foreground(Warning).
			Italic(true)

	ToolDone = lipgloss.NewStyle().
			Foreground(Secondary)

	// Input Styles
	InputBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 1)

	InputDisabled = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Muted).
			Padding(0, 1)

	SendEnabled = lipgloss.NewStyle().
			Foreground(White).
			Background(Primary).
			Padding(0, 1)

	SendDisabled = lipgloss.NewStyle().
			Foreground(Muted).
			Padding(0, 1)

	// Sidebar
	Sidebar = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, true, false, false).
		BorderForeground(Border).
		Padding(0, 1)

	SidebarTitle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	SidebarActive = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	// Status Bar Styles
	StatusBar = lipgloss.NewStyle().
			Foreground(Muted).
			Padding(0, 1)

	StatusBarStreaming = lipgloss.NewStyle().
				Foreground(Primary).
				Padding(0, 1)

	StatusBarError = lipgloss.NewStyle().
			Foreground(Error).
			Padding(0, 1)

	// Header
	Header = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true).
		Padding(0, 1)

	// Welcome screen
	WelcomeTitle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	WelcomeBody = lipgloss.NewStyle().
			Foreground(Muted)
)

// Badge renders an avatar badge with the given colors.
func Badge(icon, bg, fg string) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(fg)).
		Background(lipgloss.Color(bg)).
		Bold(true).
		Padding(0, 1).
		Render(icon)
}
