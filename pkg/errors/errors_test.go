package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestErrorDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{name: "ErrNotInitialized", err: ErrNotInitialized, message: "buffer not initialized"},
		{name: "ErrReleased", err: ErrReleased, message: "buffer released"},
		{name: "ErrCapacityOutOfRange", err: ErrCapacityOutOfRange, message: "capacity out of range"},
		{name: "ErrPayloadConsumed", err: ErrPayloadConsumed, message: "readback payload already consumed"},
		{name: "ErrRequestPending", err: ErrRequestPending, message: "readback request still pending"},
		{name: "ErrCopierClosed", err: ErrCopierClosed, message: "copier closed"},
		{name: "ErrOutOfBounds", err: ErrOutOfBounds, message: "word offset out of bounds"},
		{name: "ErrInvalidConfig", err: ErrInvalidConfig, message: "invalid configuration"},
		{name: "ErrInvalidFilter", err: ErrInvalidFilter, message: "invalid filter expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error(), "error message should match expected message")
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	wrapped := Wrap(ErrNotInitialized, "tick")
	assert.Equal(t, "tick: buffer not initialized", wrapped.Error())
	assert.True(t, Is(wrapped, ErrNotInitialized))
	assert.False(t, Is(wrapped, ErrReleased))
}

func TestLogWithError(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "msg", LevelKey: "level", EncodeLevel: zapcore.LowercaseLevelEncoder}),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	)
	log := zap.New(core)

	ctx := WithRequestID(context.Background(), "req-1")
	err := LogWithError(ctx, log, "readback failed", ErrReleased)
	require.Error(t, err)
	assert.True(t, Is(err, ErrReleased))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "readback failed", entry["msg"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "buffer released", entry["error"])
}
