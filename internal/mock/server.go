// Package mock is a scripted chat backend speaking the data stream protocol.
// It is used for demos and tests.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"toolchat/internal/logging"
	"toolchat/internal/tool"
)

// DefaultTokensPerSecond paces streamed text chunks.
const DefaultTokensPerSecond = 60

// Server is the mock backend.
type Server struct {
	tools           *tool.Registry
	tokensPerSecond float64
	chunkSize       int
	logger          *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTokensPerSecond sets the chunk rate. Zero or less streams unpaced.
func WithTokensPerSecond(n float64) Option {
	return func(s *Server) {
		s.tokensPerSecond = n
	}
}

// WithChunkSize sets how many runes go into one text part.
func WithChunkSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a mock backend that runs server-side tool calls with tools.
func NewServer(tools *tool.Registry, opts ...Option) *Server {
	s := &Server{
		tools:           tools,
		tokensPerSecond: DefaultTokensPerSecond,
		chunkSize:       3,
		logger:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the backend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/chat", s.chatHandler)
	return mux
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("mock server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"tools":  len(s.tools.All()),
	})
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil || !gjson.ValidBytes(body) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	messages := gjson.GetBytes(body, "messages").Array()
	if len(messages) == 0 {
		http.Error(w, "messages must not be empty", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Vercel-AI-Data-Stream", "v1")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	out := &writer{
		ctx:     r.Context(),
		w:       w,
		flusher: flusher,
		limiter: s.limiter(),
	}
	out.part("f", map[string]any{"messageId": "msg-" + uuid.NewString()})

	last := messages[len(messages)-1]
	if last.Get("role").String() == "assistant" {
		s.summarize(out, last)
		return
	}
	s.respond(r.Context(), out, last.Get("content").String())
}

func (s *Server) limiter() *rate.Limiter {
	if s.tokensPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(s.tokensPerSecond), 1)
}

// respond answers a fresh user message.
func (s *Server) respond(ctx context.Context, out *writer, userMessage string) {
	lower := strings.ToLower(userMessage)
	s.logger.Debug("mock request", "message", userMessage)

	switch {
	case strings.Contains(lower, "weather"):
		// resolved on the server, the client continues with the result
		args := map[string]any{"city": extractCity(userMessage)}
		callID := newCallID()
		out.part("9", map[string]any{"toolCallId": callID, "toolName": "getWeather", "args": args})

		raw, _ := json.Marshal(args)
		result, err := s.tools.Execute(ctx, "getWeather", raw)
		if err != nil {
			result, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		out.part("a", map[string]any{"toolCallId": callID, "result": result})
		out.finish("tool-calls")

	case strings.Contains(lower, "list") || strings.Contains(lower, "files"):
		// left for the client to execute
		out.part("9", map[string]any{"toolCallId": newCallID(), "toolName": "list", "args": map[string]any{}})
		out.finish("tool-calls")

	case strings.Contains(lower, "fail"):
		out.text(s.chunkSize, "Let me try that")
		out.part("3", "simulated backend failure")

	default:
		out.text(s.chunkSize, reply(lower))
		out.finish("stop")
	}
}

// summarize answers a continuation round using the tool results found on the
// trailing assistant message.
func (s *Server) summarize(out *writer, assistant gjson.Result) {
	var b strings.Builder
	for _, inv := range assistant.Get("toolInvocations").Array() {
		result := inv.Get("result")
		switch inv.Get("toolName").String() {
		case "getWeather":
			if result.Get("error").Exists() {
				fmt.Fprintf(&b, "I could not get the weather: %s\n", result.Get("error").String())
				continue
			}
			fmt.Fprintf(&b, "It's %d°F and %s in %s.\n",
				result.Get("tempF").Int(), result.Get("condition").String(), result.Get("city").String())
		case "list":
			fmt.Fprintf(&b, "Here is what I found in the workspace:\n\n```\n%s\n```\n", strings.TrimSpace(result.String()))
		default:
			fmt.Fprintf(&b, "The `%s` tool returned:\n\n```json\n%s\n```\n", inv.Get("toolName").String(), result.Raw)
		}
	}
	if b.Len() == 0 {
		b.WriteString("There is nothing more to add.")
	}
	out.text(s.chunkSize, strings.TrimSpace(b.String()))
	out.finish("stop")
}

func reply(lower string) string {
	if strings.Contains(lower, "hello") || strings.Contains(lower, "hi") {
		return "Hello! I'm a demo assistant that can call tools. Try asking me:\n\n- **What's the weather in Tokyo?**\n- **List the files** in this workspace\n\nWhat would you like to do?"
	}
	return "I understand your request. This is a scripted backend, so my answers are limited.\n\nI can:\n- Look up the **weather** for a city\n- **List files** in the workspace\n\nAsk me about either to see a tool call."
}

// extractCity takes the words after " in " as the city name.
func extractCity(msg string) string {
	idx := strings.LastIndex(strings.ToLower(msg), " in ")
	if idx < 0 {
		return "NYC"
	}
	city := strings.Trim(msg[idx+4:], " ?!.")
	if city == "" {
		return "NYC"
	}
	return city
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// writer emits data stream parts, stopping quietly once the client is gone.
type writer struct {
	ctx     context.Context
	w       io.Writer
	flusher http.Flusher
	limiter *rate.Limiter
	failed  bool
}

func (o *writer) part(code string, v any) {
	if o.failed {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		o.failed = true
		return
	}
	if _, err := fmt.Fprintf(o.w, "%s:%s\n", code, data); err != nil {
		o.failed = true
		return
	}
	o.flusher.Flush()
}

func (o *writer) text(chunkSize int, s string) {
	runes := []rune(s)
	for i := 0; i < len(runes) && !o.failed; i += chunkSize {
		if err := o.limiter.Wait(o.ctx); err != nil {
			o.failed = true
			return
		}
		end := min(i+chunkSize, len(runes))
		o.part("0", string(runes[i:end]))
	}
}

func (o *writer) finish(reason string) {
	o.part("e", map[string]any{"finishReason": reason, "isContinued": false})
	o.part("d", map[string]any{"finishReason": reason})
}
