package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracerProvider(t *testing.T) (*tracetest.InMemoryExporter, trace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

func TestStartSpan_NilTracer(t *testing.T) {
	t.Parallel()

	resultCtx, span := StartSpan(t.Context(), nil, "schema.Fetch")

	require.NotNil(t, resultCtx)
	require.NotNil(t, span)
	assert.False(t, span.SpanContext().IsValid(), "nil tracer should return no-op span")
	assert.NotPanics(t, func() { span.End() })
}

func TestStartSpan_ValidTracer(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)
	tracer := tp.Tracer("test-tracer")

	_, span := StartSpan(t.Context(), tracer, "schema.Fetch",
		trace.WithAttributes(AttrPath.String("db/schema.sql")),
	)
	require.True(t, span.SpanContext().IsValid())
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "schema.Fetch", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, AttrPath.String("db/schema.sql"))
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)
	_, span := tp.Tracer("test-tracer").Start(t.Context(), "schema.Fetch")

	RecordError(span, nil)
	RecordError(span, errors.New("ref not found"))
	RecordError(nil, errors.New("ignored"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "operation failed", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestStartSpan_NilTracerLeavesParentOpen(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)
	ctx, parent := tp.Tracer("test-tracer").Start(t.Context(), "caller")

	resultCtx, span := StartSpan(ctx, nil, "schema.Fetch")
	RecordError(span, errors.New("ref not found"))
	span.End()

	assert.Equal(t, ctx, resultCtx)
	assert.Empty(t, exporter.GetSpans(), "parent span must not be ended")

	parent.End()
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
}
