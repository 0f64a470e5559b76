package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestFromContextTagsRequestID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")

	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestID(ctx))
	FromContext(ctx).Info("rewrite served", "children", 4)
	FromContext(context.Background()).Debug("filtered out")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "req-42", rec["request_id"])
	assert.Equal(t, "rewrite served", rec["msg"])
	assert.Equal(t, float64(4), rec["children"])
}

func TestWithComponent(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "text")
	WithComponent("stats-cache").Debug("hit")

	assert.Contains(t, buf.String(), "component=stats-cache")
	assert.Contains(t, buf.String(), "source=")
	assert.Empty(t, RequestID(context.Background()))
}
