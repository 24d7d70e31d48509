// Package opentracing adapts an opentracing.Tracer to tracing.Tracer.
package opentracing

import (
	"context"

	"github.com/featurebasedb/relstore/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

// Ensure type implements interface.
var _ tracing.Tracer = (*Tracer)(nil)

// Tracer represents a wrapper for OpenTracing that implements tracing.Tracer.
type Tracer struct {
	tracer    opentracing.Tracer
	component string
}

// NewTracer returns a new instance of Tracer. Every span it starts is tagged
// with component.
func NewTracer(tracer opentracing.Tracer, component string) *Tracer {
	return &Tracer{tracer: tracer, component: component}
}

// StartSpanFromContext returns a new child span and context from a given context.
func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName string) (tracing.Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := t.tracer.StartSpan(operationName, opts...)
	if t.component != "" {
		ext.Component.Set(span, t.component)
	}
	return span, opentracing.ContextWithSpan(ctx, span)
}
