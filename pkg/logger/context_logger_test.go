package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_AddsContextFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithValue(ctx, UserIDKey, "alice")
	cl.LogRequest(ctx, "POST", "/api/v1/rooms", 201, 12)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, int64(201), fields["status_code"])
	assert.NotContains(t, fields, "trace_id")
}

func TestContextLogger_LogError(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	cl.LogError(context.Background(), errors.New("boom"), "upload failed", zap.String("key", "a/b/1.webm"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "error_occurred", entry.Message)
	assert.Equal(t, "boom", entry.ContextMap()["error"])
	assert.Equal(t, "upload failed", entry.ContextMap()["message"])
}

func TestNew_FallsBackOnUnknownLevel(t *testing.T) {
	log := New("verbose", "json")
	require.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
	assert.False(t, log.Core().Enabled(zap.DebugLevel))

	debug := New("debug", "console")
	assert.True(t, debug.Core().Enabled(zap.DebugLevel))
}
