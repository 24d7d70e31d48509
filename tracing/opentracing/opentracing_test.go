package opentracing_test

import (
	"context"
	"testing"

	reltracing "github.com/featurebasedb/relstore/tracing/opentracing"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"
)

func TestTracerParentChild(t *testing.T) {
	mt := mocktracer.New()
	tr := reltracing.NewTracer(mt, "relstore")

	parent, ctx := tr.StartSpanFromContext(context.Background(), "Datastore.PutEntities")
	child, _ := tr.StartSpanFromContext(ctx, "Datastore.PutEntity")
	child.Finish()
	parent.Finish()

	spans := mt.FinishedSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "Datastore.PutEntity", spans[0].OperationName)
	require.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
	require.Equal(t, "relstore", spans[1].Tag("component"))
}
