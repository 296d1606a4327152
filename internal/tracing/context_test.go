package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithSessionID(ctx, "sess-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "turn-1", GetTurnID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "turn-1", tc.TurnID)
	assert.Equal(t, "sess-1", tc.SessionID)
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetTurnID(ctx))
	assert.Empty(t, GetSessionID(ctx))
}

func TestNewTurnContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "sess-9")
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetTurnID(ctx))
	assert.Equal(t, "sess-9", GetSessionID(ctx))

	// An existing trace ID is preserved across turns.
	ctx2 := NewTurnContext(ctx, "sess-9")
	assert.Equal(t, GetTraceID(ctx), GetTraceID(ctx2))
	assert.NotEqual(t, GetTurnID(ctx), GetTurnID(ctx2))
}
