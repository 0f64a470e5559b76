package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "rewrite", "req-1")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, child := StartChildSpan(ctx, "operator")
			child.SetAttr("children", 4)
			child.End()
		}()
	}
	wg.Wait()
	root.End()

	children := root.Children()
	require.Len(t, children, 4)
	for _, c := range children {
		assert.Equal(t, "req-1", c.TraceID)
		v, ok := c.Attr("children")
		require.True(t, ok)
		assert.Equal(t, 4, v)
	}
	assert.Same(t, root, SpanFromContext(ctx))
}

func TestChildWithoutParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, SpanFromContext(ctx))
	assert.Nil(t, SpanFromContext(context.Background()))
}

func TestLogWritesTreeAtDebug(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "rewrite", "req-2")
	_, child := StartChildSpan(ctx, "operator")
	child.End()
	root.End()

	var buf bytes.Buffer
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=rewrite")
	assert.Contains(t, lines[1], "span=operator")
	assert.Contains(t, lines[1], "depth=1")

	buf.Reset()
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	assert.Empty(t, buf.String())
}
