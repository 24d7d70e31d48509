package sqlstore

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricQueries      = "queries_total"
	MetricQueryResults = "query_results_total"
	MetricGets         = "gets_total"
	MetricPuts         = "puts_total"
	MetricDeletes      = "deletes_total"
	MetricLockDuration = "task_lock_seconds"
)

var CounterQueries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relstore",
		Subsystem: "datastore",
		Name:      MetricQueries,
		Help:      "Number of queries issued, by table.",
	},
	[]string{"table"},
)

var CounterQueryResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relstore",
		Subsystem: "datastore",
		Name:      MetricQueryResults,
		Help:      "Number of rows returned by queries, by table.",
	},
	[]string{"table"},
)

var CounterGets = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relstore",
		Subsystem: "datastore",
		Name:      MetricGets,
		Help:      "Number of single-row reads by primary key, by table.",
	},
	[]string{"table"},
)

var CounterPuts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relstore",
		Subsystem: "datastore",
		Name:      MetricPuts,
		Help:      "Number of rows inserted or updated, by table.",
	},
	[]string{"table"},
)

var CounterDeletes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relstore",
		Subsystem: "datastore",
		Name:      MetricDeletes,
		Help:      "Number of rows deleted, by table.",
	},
	[]string{"table"},
)

var HistogramLockDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "relstore",
		Subsystem: "datastore",
		Name:      MetricLockDuration,
		Help:      "Duration of task lock transactions, by operation and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	},
	[]string{"op", "outcome"},
)

func init() {
	prometheus.MustRegister(CounterQueries)
	prometheus.MustRegister(CounterQueryResults)
	prometheus.MustRegister(CounterGets)
	prometheus.MustRegister(CounterPuts)
	prometheus.MustRegister(CounterDeletes)
	prometheus.MustRegister(HistogramLockDuration)
}
