package app

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"toolchat/internal/components/chat"
	"toolchat/internal/messages"
	"toolchat/internal/store"
	"toolchat/internal/transport"
	"toolchat/internal/viewmodel"
)

const (
	headerHeight = 1
	inputHeight  = 5
	statusHeight = 1
	sidebarWidth = 28
	// the sidebar is hidden on narrower terminals
	sidebarMinWidth = 90
)

// Update handles all application messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

		chatHeight := msg.Height - headerHeight - inputHeight - statusHeight
		if chatHeight < 5 {
			chatHeight = 5
		}
		m.chat.SetSize(m.mainWidth(), chatHeight)
		m.input.SetWidth(m.mainWidth())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.status.InFlight() {
				return m.abort()
			}
			return m, tea.Quit

		case "esc":
			if m.status.InFlight() {
				return m.abort()
			}
			if m.store.ResetError() {
				m.refresh()
			}
			return m, nil

		case "enter":
			if m.draft.CanSubmit(m.status) {
				return m.submit()
			}
			return m, nil

		case "ctrl+t":
			collapsed := m.chat.ToggleTools()
			m.logger.Debug("tool blocks toggled", "collapsed", collapsed)
			return m, nil

		case "ctrl+r":
			chat.ToggleRichText()
			m.refresh()
			return m, nil
		}

	case messages.StreamEventMsg:
		m.apply(msg.TurnID, msg.Event)
		return m, nil

	case messages.StreamEndMsg:
		if m.store.ActiveTurnID() != msg.TurnID {
			return m, nil
		}
		reason := "stream ended without a terminal event"
		if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) {
			reason = msg.Err.Error()
		}
		m.apply(msg.TurnID, transport.ErrorEvent(reason))
		return m, nil

	case spinner.TickMsg:
		if !m.status.InFlight() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// Composer only takes keys while idle
	if !m.status.InFlight() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Always allow chat scrolling
	var cmd tea.Cmd
	m.chat, cmd = m.chat.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit hands the draft to the store and starts pumping the turn's events
// into the program.
func (m Model) submit() (tea.Model, tea.Cmd) {
	turn, err := m.draft.Submit(context.Background(), m.store)
	m.input.Reset()
	m.refresh()
	if err != nil {
		m.logger.Warn("submit failed", "error", err)
		return m, nil
	}

	m.input.Blur()
	return m, tea.Batch(pump(turn, m.shared.Send), m.spinner.Tick)
}

func (m Model) abort() (tea.Model, tea.Cmd) {
	if err := m.store.Abort(); err != nil && !errors.Is(err, store.ErrNoActiveTurn) {
		m.logger.Warn("abort failed", "error", err)
	}
	m.refresh()
	cmd := m.input.Focus()
	return m, cmd
}

// apply feeds one event into the store. Events of turns that are no longer
// active are dropped.
func (m *Model) apply(turnID string, ev transport.Event) {
	wasInFlight := m.status.InFlight()

	err := m.store.Apply(turnID, ev)
	var orphan *store.OrphanToolResultError
	var terr *store.TransportError
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStaleTurn):
		m.logger.Debug("stale event dropped", "turn", turnID, "type", ev.Type.String())
		return
	case errors.As(err, &orphan):
		m.logger.Warn("orphan tool result", "tool_call_id", orphan.ToolCallID)
	case errors.As(err, &terr):
		m.logger.Error("turn failed", "turn", turnID, "reason", terr.Reason)
	default:
		m.logger.Warn("event skipped", "turn", turnID, "error", err)
	}

	m.refresh()
	if wasInFlight && !m.status.InFlight() {
		m.input.Focus()
	}
}

// refresh pulls a fresh snapshot from the store into the view.
func (m *Model) refresh() {
	st := m.store.State()
	m.status = st.Status
	m.errText = st.Err
	m.empty = viewmodel.Empty(st)
	m.chat.SetItems(viewmodel.Map(st))
}

func (m Model) mainWidth() int {
	if m.width >= sidebarMinWidth {
		return m.width - sidebarWidth
	}
	return m.width
}

// pump returns a command that drains turn, handing every event to send, and
// finally reports the end of the stream.
func pump(turn *store.Turn, send func(tea.Msg)) tea.Cmd {
	return func() tea.Msg {
		defer turn.Close()
		for turn.Next() {
			send(messages.StreamEventMsg{TurnID: turn.ID, Event: turn.Current()})
		}
		return messages.StreamEndMsg{TurnID: turn.ID, Err: turn.Err()}
	}
}
