package errors

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrNotInitialized is returned when the shared buffer is used before Initialize.
	ErrNotInitialized = errors.New("buffer not initialized")
	// ErrReleased is returned when a released buffer is used again.
	ErrReleased = errors.New("buffer released")
	// ErrCapacityOutOfRange is returned when a capacity exceeds the supported bound.
	ErrCapacityOutOfRange = errors.New("capacity out of range")
	// ErrPayloadConsumed is returned when a readback payload is read a second time.
	ErrPayloadConsumed = errors.New("readback payload already consumed")
	// ErrRequestPending is returned when a payload is read before the copy completed.
	ErrRequestPending = errors.New("readback request still pending")
	// ErrCopierClosed is returned when a copy is submitted to a stopped copier.
	ErrCopierClosed = errors.New("copier closed")
	// ErrOutOfBounds is returned when a word offset falls outside the buffer.
	ErrOutOfBounds = errors.New("word offset out of bounds")
)

// Configuration errors.
var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidFilter is returned when a collision filter expression does not compile.
	ErrInvalidFilter = errors.New("invalid filter expression")
)

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap wraps an error with additional context. The result still matches err with Is.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// LogWithError logs the error with context and returns a wrapped error.
func LogWithError(ctx context.Context, log *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if log != nil {
		if ctx != nil {
			if reqID, ok := ctx.Value(requestIDKey{}).(string); ok && reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
		}
		log.Error(msg, append(fields, zap.Error(err))...)
	}
	return Wrap(err, msg)
}

type requestIDKey struct{}

// WithRequestID attaches a readback request id to ctx for LogWithError.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
