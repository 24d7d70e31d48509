// Package tracing lets the datastore report spans without depending on a
// particular tracing system. Spans go to GlobalTracer, which does nothing
// until a program installs a real one, e.g. through the opentracing
// subpackage.
package tracing

import (
	"context"
)

// GlobalTracer receives every span started with StartSpanFromContext.
var GlobalTracer Tracer = NopTracer()

// StartSpanFromContext starts a span on GlobalTracer as a child of the span
// carried by ctx, if any.
func StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return GlobalTracer.StartSpanFromContext(ctx, operationName)
}

// SetGlobalTracer installs t and returns a function restoring the previous
// tracer.
func SetGlobalTracer(t Tracer) (restore func()) {
	prev := GlobalTracer
	GlobalTracer = t
	return func() { GlobalTracer = prev }
}

// Tracer starts spans.
type Tracer interface {
	StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context)
}

// Span is one timed operation.
type Span interface {
	Finish()
	// LogKV records alternating keys and values on the span.
	LogKV(alternatingKeyValues ...interface{})
}

// NopTracer returns a Tracer whose spans record nothing.
func NopTracer() Tracer {
	return nopTracer{}
}

type nopTracer struct{}

func (nopTracer) StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return nopSpan{}, ctx
}

type nopSpan struct{}

func (nopSpan) Finish()              {}
func (nopSpan) LogKV(...interface{}) {}
