// Package app is the Bubble Tea program of the chat client. It renders the
// store's state through the view model and feeds stream events back into
// the store from the UI loop.
package app

import (
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"toolchat/internal/components/chat"
	"toolchat/internal/components/input"
	"toolchat/internal/conversation"
	"toolchat/internal/draft"
	"toolchat/internal/logging"
	"toolchat/internal/store"
	"toolchat/internal/styles"
)

// SharedState holds state that needs to be shared between model copies
type SharedState struct {
	mu      sync.Mutex
	program *tea.Program
}

// SetProgram sets the program reference
func (s *SharedState) SetProgram(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = p
}

// Send delivers msg to the program. Messages are dropped until a program is
// set.
func (s *SharedState) Send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Config configures the application model.
type Config struct {
	Store *store.Store
	// Draft defaults to a controller with the default history size.
	Draft  *draft.Controller
	Logger *logging.Logger
	// Backend is shown in the header.
	Backend string
}

// Model is the main application model
type Model struct {
	chat    chat.Model
	input   input.Model
	spinner spinner.Model
	store   *store.Store
	draft   *draft.Controller
	shared  *SharedState
	logger  *logging.Logger
	backend string

	status  conversation.Status
	errText string
	empty   bool
	width   int
	height  int
	ready   bool
}

// New creates a new application model
func New(cfg Config) Model {
	if cfg.Draft == nil {
		cfg.Draft = draft.New(draft.DefaultHistory)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = styles.StatusBarStreaming

	m := Model{
		chat:    chat.New(80, 20),
		input:   input.New(80, cfg.Draft),
		spinner: sp,
		store:   cfg.Store,
		draft:   cfg.Draft,
		shared:  &SharedState{},
		logger:  cfg.Logger.With("component", "app"),
		backend: cfg.Backend,
	}
	m.refresh()
	return m
}

// SetProgram sets the tea.Program reference used to deliver stream events.
func (m *Model) SetProgram(p *tea.Program) {
	m.shared.SetProgram(p)
}

// Init initializes the application
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.input.Init(),
		m.chat.Init(),
	)
}
