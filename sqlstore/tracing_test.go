package sqlstore_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/tracing"
	reltracing "github.com/featurebasedb/relstore/tracing/opentracing"
)

func TestDatastore_Spans(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	table := tableName("TRC")
	rel := persistence.MustRelation("", table, persistence.NewStringField("S", true, 10))
	mustAssert(t, ds, rel)

	mt := mocktracer.New()
	defer tracing.SetGlobalTracer(reltracing.NewTracer(mt, "relstore"))()

	e := ds.CreateEntity(rel, "tester")
	require.NoError(t, ds.PutEntity(ctx, e, "tester"))
	_, err := ds.GetEntity(ctx, rel, e.URI(), "tester")
	require.NoError(t, err)
	_, err = ds.CreateQuery(rel, "tester").Execute(ctx)
	require.NoError(t, err)

	var ops []string
	for _, span := range mt.FinishedSpans() {
		ops = append(ops, span.OperationName)
		require.Equal(t, "relstore", span.Tag("component"))
		if span.OperationName == "Datastore.GetEntity" {
			logs := span.Logs()
			require.Len(t, logs, 1)
			require.Equal(t, "table", logs[0].Fields[0].Key)
			require.Equal(t, table, logs[0].Fields[0].ValueString)
		}
	}
	want := []string{"Datastore.PutEntities", "Datastore.GetEntity", "Datastore.Query.Execute"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("unexpected spans (-want +got):\n%s", diff)
	}
}
