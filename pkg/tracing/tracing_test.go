package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const testTimeout = 2 * time.Second

func TestInit_Disabled(t *testing.T) {
	tp, shutdown, err := Init(Config{ServiceName: "collision-readback"})
	require.NoError(t, err)
	assert.Nil(t, tp)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, Shutdown(context.Background(), nil))
}

func TestInit_WithEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	// The exporter connects lazily, so Init succeeds without a collector.
	tp, shutdown, err := Init(Config{
		ServiceName: "collision-readback",
		Environment: "test",
		Endpoint:    "localhost:4317",
	})
	require.NoError(t, err)
	require.NotNil(t, tp)
	_ = shutdown(ctx)
}

func TestNewProvider_Resource(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := newProvider(context.Background(), Config{
		ServiceName:    "collision-readback",
		ServiceVersion: "v1.2.3",
		Environment:    "test",
	}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "readback.issue")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "readback.issue", spans[0].Name())
	assert.Contains(t, spans[0].Resource().Attributes(), semconv.ServiceName("collision-readback"))
	assert.Contains(t, spans[0].Resource().Attributes(), semconv.ServiceVersion("v1.2.3"))
}
