// Package otel provides OpenTelemetry instrumentation utilities for schema retrieval.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys shared by retrieval spans
const (
	AttrRepository = attribute.Key("git.repository")
	AttrRefName    = attribute.Key("git.ref.name")
	AttrRefKind    = attribute.Key("git.ref.kind")
	AttrPath       = attribute.Key("git.path")
	AttrCommit     = attribute.Key("git.commit")
	AttrEncoding   = attribute.Key("schema.encoding")
	AttrStage      = attribute.Key("retrieval.stage")
	AttrTagCount   = attribute.Key("tags.count")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
// The span already in ctx is never handed out, so callers may End it freely.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// The status description stays generic so repository URLs and paths only appear in the error event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
