package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-7")
	ctx = WithSessionID(ctx, "sess-7")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-7"`)
	assert.Contains(t, out, `"session_id":"sess-7"`)
	assert.NotContains(t, out, "turn_id")
}

func TestMergeContext(t *testing.T) {
	source := WithTraceID(context.Background(), "trace-a")
	target := WithSessionID(context.Background(), "sess-b")

	merged := MergeContext(target, source)
	assert.Equal(t, "trace-a", GetTraceID(merged))
	assert.Equal(t, "sess-b", GetSessionID(merged))

	// Existing values win over the source.
	target2 := WithTraceID(context.Background(), "trace-keep")
	merged2 := MergeContext(target2, source)
	assert.Equal(t, "trace-keep", GetTraceID(merged2))
}

func TestCloneContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "sess-c")
	clone := CloneContext(ctx)

	assert.Equal(t, GetTraceID(ctx), GetTraceID(clone))
	assert.Equal(t, GetTurnID(ctx), GetTurnID(clone))
	assert.Equal(t, GetSessionID(ctx), GetSessionID(clone))
}
