// Package config loads toolchat settings from an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Backend kinds.
const (
	BackendHTTP      = "http"
	BackendAnthropic = "anthropic"
)

// Config is the full toolchat configuration.
type Config struct {
	Backend   BackendConfig   `toml:"backend"`
	Anthropic AnthropicConfig `toml:"anthropic"`
	Mock      MockConfig      `toml:"mock"`
	Log       LogConfig       `toml:"log"`
	Tools     ToolsConfig     `toml:"tools"`
}

// BackendConfig selects and configures the chat backend.
type BackendConfig struct {
	Kind     string            `toml:"kind"`
	URL      string            `toml:"url"`
	Path     string            `toml:"path"`
	Headers  map[string]string `toml:"headers"`
	Body     map[string]any    `toml:"body"`
	MaxSteps int               `toml:"max_steps"`
	// ClientTools runs tool calls the backend leaves unresolved.
	ClientTools bool `toml:"client_tools"`
}

// AnthropicConfig configures the direct Anthropic backend.
type AnthropicConfig struct {
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	MaxTokens int64  `toml:"max_tokens"`
}

// MockConfig configures the scripted backend.
type MockConfig struct {
	Addr            string  `toml:"addr"`
	TokensPerSecond float64 `toml:"tokens_per_second"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// ToolsConfig configures the local tools.
type ToolsConfig struct {
	Root string `toml:"root"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:        BackendHTTP,
			URL:         "http://localhost:8000",
			Path:        "/api/chat",
			MaxSteps:    3,
			ClientTools: true,
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Mock: MockConfig{
			Addr:            "127.0.0.1:8000",
			TokensPerSecond: 60,
		},
		Log: LogConfig{
			Level: "off",
		},
	}
}

// Dir returns the toolchat configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(base, "toolchat"), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at path over the defaults. An empty path means
// the default location, where a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := Path()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Backend.Kind {
	case BackendHTTP:
		if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "backend.url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Backend.URL),
			})
		}
		if !strings.HasPrefix(c.Backend.Path, "/") {
			errs = append(errs, ValidationError{Field: "backend.path", Message: "must start with /"})
		}
	case BackendAnthropic:
		if c.Anthropic.Model == "" {
			errs = append(errs, ValidationError{Field: "anthropic.model", Message: "must not be empty"})
		}
		if c.Anthropic.MaxTokens <= 0 {
			errs = append(errs, ValidationError{Field: "anthropic.max_tokens", Message: "must be positive"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "backend.kind",
			Message: fmt.Sprintf("invalid kind '%s', must be one of: http, anthropic", c.Backend.Kind),
		})
	}

	if c.Backend.MaxSteps < 1 || c.Backend.MaxSteps > 20 {
		errs = append(errs, ValidationError{Field: "backend.max_steps", Message: "must be between 1 and 20"})
	}
	if c.Mock.TokensPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "mock.tokens_per_second", Message: "must not be negative"})
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "off", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
