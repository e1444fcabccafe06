package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextPropagation(t *testing.T) {
	ctx := context.Background()

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithSessionID(ctx, "session-1")
	ctx = WithRunID(ctx, "run-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "session-1", GetSessionID(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
}

func TestContextPropagation_Missing(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetTraceID(nil)) //nolint:staticcheck
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	first := GetTraceID(ctx)
	require.NotEmpty(t, first)

	second := GetTraceID(NewRequestContext(context.Background()))
	assert.NotEqual(t, first, second)
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionID(WithTraceID(context.Background(), "t1"), "s1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"t1"`)
	assert.Contains(t, out, `"session_id":"s1"`)
}
