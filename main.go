package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"toolchat/internal/app"
	"toolchat/internal/config"
	"toolchat/internal/conversation"
	"toolchat/internal/logging"
	"toolchat/internal/mock"
	"toolchat/internal/store"
	"toolchat/internal/tool"
	"toolchat/internal/transport"
	"toolchat/internal/transport/claude"
)

var (
	responseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "toolchat",
		Usage: "A streaming chat client with tool calling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file (default: ~/.config/toolchat/config.toml)",
				EnvVars: []string{"TOOLCHAT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "backend-kind",
				Usage:   "Backend to talk to: http or anthropic",
				EnvVars: []string{"BACKEND_KIND"},
			},
			&cli.StringFlag{
				Name:    "backend-url",
				Aliases: []string{"b"},
				Usage:   "Base URL of the data stream backend",
				EnvVars: []string{"BACKEND_URL"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Anthropic API key for the anthropic backend",
				EnvVars: []string{"ANTHROPIC_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "model",
				Usage:   "Model for the anthropic backend",
				EnvVars: []string{"ANTHROPIC_MODEL"},
			},
			&cli.IntFlag{
				Name:  "max-steps",
				Usage: "Maximum request rounds per turn",
			},
			&cli.StringFlag{
				Name:    "tools-root",
				Usage:   "Directory the local tools may read (default: working directory)",
				EnvVars: []string{"TOOLS_ROOT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn, error or off",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "Write logs to this file",
				EnvVars: []string{"LOG_FILE"},
			},
		},
		Action: chatAction,
		Commands: []*cli.Command{
			{
				Name:   "chat",
				Usage:  "Open the interactive chat (default)",
				Action: chatAction,
			},
			{
				Name:      "ask",
				Usage:     "Send one message and stream the reply to stdout",
				ArgsUsage: "<message>",
				Action:    askAction,
			},
			{
				Name:  "serve",
				Usage: "Run the scripted data stream backend",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address"},
				},
				Action: serveAction,
			},
			{
				Name:  "demo",
				Usage: "Run the scripted backend and the chat in one process",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: "127.0.0.1:0", Usage: "Listen address of the backend"},
				},
				Action: demoAction,
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// env is everything a command needs, built from the config file and flags.
type env struct {
	cfg     *config.Config
	logger  *logging.Logger
	tools   *tool.Registry
	closeFn func()
}

func (e *env) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// setup loads the configuration and applies flag overrides. Interactive
// commands log to a file so the terminal stays clean.
func setup(c *cli.Context, interactive bool) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger, closeFn, err := openLogger(cfg.Log, interactive)
	if err != nil {
		return nil, err
	}

	root := cfg.Tools.Root
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			closeFn()
			return nil, fmt.Errorf("error getting working directory: %w", err)
		}
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		tools:   tool.NewRegistry(root, logger),
		closeFn: closeFn,
	}, nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("backend-kind") {
		cfg.Backend.Kind = c.String("backend-kind")
	}
	if c.IsSet("backend-url") {
		cfg.Backend.URL = c.String("backend-url")
	}
	if c.IsSet("api-key") {
		cfg.Anthropic.APIKey = c.String("api-key")
	}
	if c.IsSet("model") {
		cfg.Anthropic.Model = c.String("model")
	}
	if c.IsSet("max-steps") {
		cfg.Backend.MaxSteps = c.Int("max-steps")
	}
	if c.IsSet("tools-root") {
		cfg.Tools.Root = c.String("tools-root")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	if c.Command != nil && c.Command.Name == "serve" && c.IsSet("addr") {
		cfg.Mock.Addr = c.String("addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func openLogger(lc config.LogConfig, interactive bool) (*logging.Logger, func(), error) {
	level := logging.ParseLevel(lc.Level)
	if level == logging.LevelOff {
		return logging.Nop(), func() {}, nil
	}

	path := lc.File
	if path == "" && interactive {
		dir, err := config.Dir()
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dir, "toolchat.log")
	}
	if path == "" {
		return logging.New(level, os.Stderr), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logging.New(level, f), func() { _ = f.Close() }, nil
}

// newTransport builds the configured backend transport and a label for it.
func newTransport(e *env) (transport.Transport, string) {
	cfg := e.cfg
	if cfg.Backend.Kind == config.BackendAnthropic {
		return claude.NewClient(claude.Config{
			APIKey:    cfg.Anthropic.APIKey,
			BaseURL:   cfg.Anthropic.BaseURL,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			MaxSteps:  cfg.Backend.MaxSteps,
			Tools:     e.tools,
			Logger:    e.logger,
		}), "anthropic · " + cfg.Anthropic.Model
	}

	opts := []transport.Option{
		transport.WithPath(cfg.Backend.Path),
		transport.WithMaxSteps(cfg.Backend.MaxSteps),
		transport.WithLogger(e.logger),
	}
	for k, v := range cfg.Backend.Headers {
		opts = append(opts, transport.WithHeader(k, v))
	}
	for k, v := range cfg.Backend.Body {
		opts = append(opts, transport.WithBody(k, v))
	}
	if cfg.Backend.ClientTools {
		opts = append(opts, transport.WithToolExecutor(e.tools))
	}
	return transport.NewClient(cfg.Backend.URL, opts...), cfg.Backend.URL
}

func chatAction(c *cli.Context) error {
	e, err := setup(c, true)
	if err != nil {
		return err
	}
	defer e.Close()

	t, label := newTransport(e)
	return runTUI(c.Context, store.New(t, store.WithLogger(e.logger)), e.logger, label)
}

func runTUI(ctx context.Context, st *store.Store, logger *logging.Logger, label string) error {
	model := app.New(app.Config{Store: st, Logger: logger, Backend: label})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	model.SetProgram(p)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func askAction(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return cli.Exit("usage: toolchat ask <message>", 2)
	}

	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.Close()

	t, _ := newTransport(e)
	st := store.New(t, store.WithLogger(e.logger))
	p := &printer{out: os.Stdout}
	err = st.Run(c.Context, text, p.update)
	fmt.Fprintln(os.Stdout)
	return err
}

// printer writes the growth of the assistant message to out.
type printer struct {
	out      io.Writer
	text     int
	calls    map[string]bool
	resolved map[string]bool
}

func (p *printer) update(st conversation.State) {
	last := st.Last()
	if last == nil || last.Role != conversation.RoleAssistant {
		return
	}
	if p.calls == nil {
		p.calls = map[string]bool{}
		p.resolved = map[string]bool{}
	}

	for _, inv := range last.ToolInvocations {
		if !p.calls[inv.ToolCallID] {
			p.calls[inv.ToolCallID] = true
			fmt.Fprintln(p.out, toolStyle.Render("→ "+inv.ToolName+" "+string(inv.Args)))
		}
		if inv.HasResult() && !p.resolved[inv.ToolCallID] {
			p.resolved[inv.ToolCallID] = true
			fmt.Fprintln(p.out, toolStyle.Render("← "+inv.ToolName+" "+truncate(string(inv.Result), 200)))
		}
	}
	if len(last.Content) > p.text {
		fmt.Fprint(p.out, responseStyle.Render(last.Content[p.text:]))
		p.text = len(last.Content)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func serveAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.Close()

	srv := mock.NewServer(e.tools,
		mock.WithTokensPerSecond(e.cfg.Mock.TokensPerSecond),
		mock.WithLogger(e.logger),
	)
	fmt.Fprintf(os.Stderr, "Serving data stream backend on http://%s\n", e.cfg.Mock.Addr)
	return srv.ListenAndServe(c.Context, e.cfg.Mock.Addr)
}

// demoAction runs the scripted backend on a local listener and points an
// HTTP transport at it. The backend stops when the chat exits.
func demoAction(c *cli.Context) error {
	e, err := setup(c, true)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := c.String("addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	e.cfg.Backend.Kind = config.BackendHTTP
	e.cfg.Backend.URL = "http://" + ln.Addr().String()
	t, label := newTransport(e)
	st := store.New(t, store.WithLogger(e.logger))

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv := mock.NewServer(e.tools,
			mock.WithTokensPerSecond(e.cfg.Mock.TokensPerSecond),
			mock.WithLogger(e.logger),
		)
		return srv.Serve(ctx, ln)
	})
	g.Go(func() error {
		defer cancel()
		return runTUI(ctx, st, e.logger, "demo · "+label)
	})
	return g.Wait()
}
