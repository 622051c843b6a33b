// Package tool holds the tools the assistant may call and runs them locally.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/gjson"

	"toolchat/internal/logging"
)

// Definition describes a tool that can be offered to the model.
type Definition struct {
	Name        string
	Description string
	// InputSchema is the JSON schema of the arguments object.
	InputSchema map[string]any
	Execute     func(ctx context.Context, env Env, args gjson.Result) (Result, error)
}

// Env is the execution environment shared by all tools.
type Env struct {
	// Root is the directory relative paths resolve against.
	Root string
}

// Result is the outcome of a tool execution. Data, when set, is sent as the
// JSON result; otherwise Output is sent as a JSON string.
type Result struct {
	Title  string
	Output string
	Data   any
}

// JSON returns the wire form of the result.
func (r Result) JSON() (json.RawMessage, error) {
	if r.Data != nil {
		return json.Marshal(r.Data)
	}
	return json.Marshal(r.Output)
}

// Registry manages the available tools.
type Registry struct {
	tools  map[string]*Definition
	env    Env
	logger *logging.Logger
}

// NewRegistry creates a registry with the built-in tools. root is the
// directory the file tools work in; empty means the working directory.
func NewRegistry(root string, logger *logging.Logger) *Registry {
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = cwd
		}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Registry{
		tools:  make(map[string]*Definition),
		env:    Env{Root: root},
		logger: logger,
	}

	r.Register(WeatherTool())
	r.Register(ListTool())
	r.Register(ReadTool())

	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(def *Definition) {
	r.tools[def.Name] = def
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Definition, error) {
	def, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return def, nil
}

// All returns the registered tools sorted by name.
func (r *Registry) All() []*Definition {
	defs := make([]*Definition, 0, len(r.tools))
	for _, def := range r.tools {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Run executes a tool and returns its full result.
func (r *Registry) Run(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	def, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(args) {
		return Result{}, fmt.Errorf("%s: arguments are not valid JSON", name)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r.logger.Debug("tool started", "tool", name)
	res, err := def.Execute(ctx, r.env, gjson.ParseBytes(args))
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return Result{}, err
	}
	r.logger.Debug("tool finished", "tool", name, "title", res.Title)
	return res, nil
}

// Execute runs a tool and returns its JSON result. It satisfies the
// transport's ToolExecutor interface.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	res, err := r.Run(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return res.JSON()
}
