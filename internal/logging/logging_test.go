package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"WARN":    LevelWarn,
		"error":   LevelError,
		"":        LevelOff,
		"verbose": LevelOff,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelWarn, &buf)

	l.Debug("hidden debug")
	l.Info("hidden info")
	l.Warn("shown warn", "k", "v")
	l.Error("shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
	assert.Contains(t, out, "k=v")
	assert.Contains(t, out, "shown error")
}

func TestLogger_NopIsSafe(t *testing.T) {
	var l *Logger
	assert.False(t, l.IsEnabled())

	n := Nop()
	n.Info("nothing")
	assert.Same(t, n, n.With("a", 1))

	r := n.StartRequest("GET", "/health")
	r.Success(200)
	r.Error(errors.New("boom"))
}

func TestLogger_RequestTiming(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelDebug, &buf).With("component", "test")

	r := l.StartRequest("POST", "http://x/api/chat")
	r.Success(200)
	r.Error(errors.New("reset"))

	out := buf.String()
	assert.Contains(t, out, "request started")
	assert.Contains(t, out, "request completed")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "error=reset")
	assert.Contains(t, out, "component=test")
}
