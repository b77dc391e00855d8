package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := NewWithHandler(h).Component("kv")

	l.Info("put ok", "key", "triv")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "kv", entry["component"])
	require.Equal(t, "triv", entry["key"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	l := NewWithHandler(h)

	l.Debug("should not appear")
	l.Warn("should appear")

	out := buf.String()
	require.False(t, strings.Contains(out, "should not appear"))
	require.True(t, strings.Contains(out, "should appear"))
}

func TestDefaultLoggerSwap(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(NewWithHandler(slog.NewJSONHandler(&buf, nil)))
	Info("hello")
	require.Contains(t, buf.String(), "hello")
}
