package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"toolchat/internal/conversation"
	"toolchat/internal/styles"
	"toolchat/internal/viewmodel"
)

// WelcomeTitle and WelcomeText make up the empty-conversation screen.
const (
	WelcomeTitle = "Start a new conversation"
	WelcomeText  = `I'm your AI assistant. I can answer questions, look things up
and call tools along the way.

Try:
• "What's the weather in Tokyo?" - server-side tool call
• "List the files here" - client-side tool call
• "Hello" - plain streamed reply`
)

// renderItem renders one display item at the given width.
func renderItem(item viewmodel.Item, width int, collapsed bool) string {
	label := item.Role.DisplayName()
	badge := styles.Badge(item.Avatar.Icon, item.Avatar.Background, item.Avatar.Foreground)
	header := badge + " " + lipgloss.NewStyle().Foreground(lipgloss.Color(item.Avatar.Background)).Bold(true).Render(label)

	inner := width - 2
	if inner < 10 {
		inner = 10
	}

	var body []string
	for _, b := range item.Blocks {
		switch b.Kind {
		case viewmodel.BlockTool:
			body = append(body, renderTool(b.Tool, inner, collapsed))
		case viewmodel.BlockText:
			if item.Role == conversation.RoleAssistant {
				body = append(body, styles.AssistantMessage.Width(inner).Render(replies.render(b.Text)))
			} else {
				body = append(body, styles.UserMessage.Width(inner).Render(b.Text))
			}
		}
	}
	if item.Streaming {
		body = append(body, styles.StreamingCursor.Render(" ▊"))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, body...)...)
	if item.Placement == viewmodel.PlacementEnd {
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, content)
	}
	return content
}

// renderTool draws a tool block with its Process (arguments) and Result
// sections. Collapsed blocks show only the header line.
func renderTool(tb *viewmodel.ToolBlock, width int, collapsed bool) string {
	status := styles.ToolDone.Render("✓")
	if tb.Pending {
		status = styles.ToolPending.Render("…")
	}
	head := status + " " + styles.ToolName.Render(tb.Name)
	if collapsed {
		return styles.ToolBox.Width(width - 2).Render(head + " " + styles.ToolSection.Render(truncate(oneLine(tb.Args), width-len(tb.Name)-10)))
	}

	result := styles.ToolBody.Render(tb.Result)
	if tb.Pending {
		result = styles.ToolPending.Render(tb.Result)
	}
	lines := []string{
		head,
		styles.ToolSection.Render("Process"),
		styles.ToolBody.Render(tb.Args),
		styles.ToolSection.Render("Result"),
		result,
	}
	return styles.ToolBox.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
