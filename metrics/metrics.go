package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for ejdb2 metrics.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for native calls made by the ejdb2 binding.
var (
	NativeCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ejdb2_native_calls_total",
		Help: "Cumulative number of native engine calls, by entry point and outcome.",
	}, []string{"entry", "outcome"})
	EngineErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ejdb2_engine_errors_total",
		Help: "Cumulative number of non-zero engine result codes, by code name.",
	}, []string{"code"})
)

// Collectors for native handles.
var (
	HandlesOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ejdb2_handles_open",
		Help: "Number of native handles currently held, by kind.",
	}, []string{"kind"})
	HandlesAbandonedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ejdb2_handles_abandoned_total",
		Help: "Cumulative number of native handles released by the garbage collector rather than Close.",
	}, []string{"kind"})
)

// Collectors for query execution and backups.
var (
	RowsVisitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ejdb2_rows_visited_total",
		Help: "Cumulative number of rows handed to query visitors.",
	})
	ExecDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ejdb2_exec_duration_seconds",
		Help:    "Duration of query executions, by execution shape.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"shape"})
	BackupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ejdb2_backups_total",
		Help: "Cumulative number of online backups, by outcome.",
	}, []string{"outcome"})
)

// Collectors returns all ejdb2 collectors, for registration with a prometheus.Registerer.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		NativeCallsTotal,
		EngineErrorsTotal,
		HandlesOpen,
		HandlesAbandonedTotal,
		RowsVisitedTotal,
		ExecDurationSeconds,
		BackupsTotal,
	}
}
