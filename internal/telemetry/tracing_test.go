package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Not parallel: the tracer provider is process-global.
func TestSpansCarryRunAndStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "webmentions-test", "run-1", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, ok := StartSpan(context.Background(), "gather", attribute.Int("documents", 3))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "send")
	EndSpan(failed, errors.New("cache write failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "gather", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("documents", 3))
	runID, found := spans[0].Resource().Set().Value(RunIDKey)
	require.True(t, found)
	assert.Equal(t, "run-1", runID.AsString())

	assert.Equal(t, "send", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "cache write failed", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
}
