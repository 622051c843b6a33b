package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/tidwall/sjson"

	"toolchat/internal/conversation"
	"toolchat/internal/logging"
)

// DefaultPath is the chat endpoint relative to the base URL.
const DefaultPath = "/api/chat"

// Client streams turns from a backend speaking the data stream protocol.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	headers    map[string]string
	body       map[string]any
	maxSteps   int
	executor   ToolExecutor
	logger     *logging.Logger

	inFlight atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Streams are long lived, so the
// client should not carry an overall timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithPath overrides the chat endpoint path.
func WithPath(path string) Option {
	return func(c *Client) {
		c.path = path
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithBody adds a top-level field to every request body.
func WithBody(key string, value any) Option {
	return func(c *Client) {
		c.body[key] = value
	}
}

// WithMaxSteps bounds the rounds of one turn.
func WithMaxSteps(n int) Option {
	return func(c *Client) {
		c.maxSteps = n
	}
}

// WithToolExecutor runs tool calls the backend leaves unresolved.
func WithToolExecutor(e ToolExecutor) Option {
	return func(c *Client) {
		c.executor = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		httpClient: &http.Client{},
		headers:    make(map[string]string),
		body:       make(map[string]any),
		maxSteps:   DefaultMaxSteps,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens a turn. It fails only with *ConcurrentStreamError; every other
// failure is delivered as an Error event on the returned stream.
func (c *Client) Stream(ctx context.Context, req Request) (Stream, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, &ConcurrentStreamError{}
	}
	open := func(ctx context.Context, history []conversation.Message) (Round, error) {
		return c.post(ctx, req.ID, history)
	}
	cfg := LoopConfig{
		AssistantID: req.AssistantID,
		MaxSteps:    c.maxSteps,
		Executor:    c.executor,
		Logger:      c.logger,
	}
	return NewLoop(ctx, req.Messages, open, cfg, func() { c.inFlight.Store(false) }), nil
}

// InFlight reports whether a stream is currently open.
func (c *Client) InFlight() bool {
	return c.inFlight.Load()
}

type chatRequest struct {
	ID       string                 `json:"id,omitempty"`
	Messages []conversation.Message `json:"messages"`
}

func (c *Client) post(ctx context.Context, id string, history []conversation.Message) (Round, error) {
	payload, err := c.encode(chatRequest{ID: id, Messages: history})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + c.path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	reqLog := c.logger.StartRequest(http.MethodPost, url)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		reqLog.Error(err)
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		reqLog.Error(err)
		return nil, err
	}
	reqLog.Success(resp.StatusCode)

	return newDataStreamRound(resp.Body, c.logger), nil
}

// encode marshals the request and merges the extra body fields in key order.
func (c *Client) encode(req chatRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	keys := make([]string, 0, len(c.body))
	for k := range c.body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data, err = sjson.SetBytes(data, k, c.body[k])
		if err != nil {
			return nil, fmt.Errorf("set body field %q: %w", k, err)
		}
	}
	return data, nil
}

// Health checks if the backend is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}
