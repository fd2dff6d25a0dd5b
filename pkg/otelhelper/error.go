package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MarkFailed records a run failure on the span: the error itself, an error
// status, and the failing step when the caller knows it.
func MarkFailed(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("execution_failed", trace.WithAttributes(attrs...))
}
