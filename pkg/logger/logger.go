// Package logger configures the process-wide slog logger and carries the
// request ID through contexts so every rewrite log line can be correlated.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type requestIDKey struct{}

// Setup installs the default handler on stderr. The command-line tool prints
// rewritten expressions on stdout, so logs stay off it.
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter installs a text or JSON handler on w. Debug level also
// records the source position of each call.
func SetupWriter(w io.Writer, level, format string) {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// ParseLevel maps a configured level name to slog; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext returns the default logger, tagged with the request ID when
// ctx carries one.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
