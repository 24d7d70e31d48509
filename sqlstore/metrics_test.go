package sqlstore_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/persistence"
)

// metricValue returns the value of the counter family name labeled with
// table, or -1 when there is none.
func metricValue(t *testing.T, name, table string) float64 {
	t.Helper()
	fams, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	fam := findFamily(name, fams)
	if fam == nil {
		return -1
	}
	for _, m := range fam.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "table" && lp.GetValue() == table {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func findFamily(name string, fams []*io_prometheus_client.MetricFamily) *io_prometheus_client.MetricFamily {
	for _, fam := range fams {
		if fam.GetName() == name {
			return fam
		}
	}
	return nil
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	table := tableName("MET")
	val := persistence.NewIntegerField("VAL", true, 9)
	rel := persistence.MustRelation("", table, val)
	mustAssert(t, ds, rel)
	label := "main." + table

	var keys []persistence.Key
	for i := 0; i < 3; i++ {
		e := ds.CreateEntity(rel, "tester")
		require.NoError(t, e.SetInt(val, int64(i)))
		require.NoError(t, ds.PutEntity(ctx, e, "tester"))
		keys = append(keys, e.Key())
	}
	_, err := ds.GetEntity(ctx, rel, keys[0].URI, "tester")
	require.NoError(t, err)
	rows, err := ds.CreateQuery(rel, "tester").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.NoError(t, ds.DeleteEntity(ctx, keys[0], "tester"))

	assert.Equal(t, 3.0, metricValue(t, "relstore_datastore_puts_total", label))
	assert.Equal(t, 1.0, metricValue(t, "relstore_datastore_gets_total", label))
	assert.Equal(t, 1.0, metricValue(t, "relstore_datastore_queries_total", label))
	assert.Equal(t, 3.0, metricValue(t, "relstore_datastore_query_results_total", label))
	assert.Equal(t, 1.0, metricValue(t, "relstore_datastore_deletes_total", label))

	tl := ds.CreateTaskLock("tester")
	ok, err := tl.ObtainLock(ctx, "lock-1", "form-1", persistence.TaskCSVGeneration)
	require.NoError(t, err)
	require.True(t, ok)

	fams, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	fam := findFamily("relstore_datastore_task_lock_seconds", fams)
	require.NotNil(t, fam)
	var samples uint64
	for _, m := range fam.GetMetric() {
		samples += m.GetHistogram().GetSampleCount()
	}
	assert.NotZero(t, samples)
}
