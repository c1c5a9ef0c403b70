package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "covid_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the refresh
// pipeline and the query API.
type Metrics struct {
	PipelineRunning prometheus.Gauge

	// Refresh cycle metrics.
	RefreshTotal         *prometheus.CounterVec // labels: outcome={success,error}
	RefreshDuration      prometheus.Histogram
	ObservationsLoaded   *prometheus.CounterVec // labels: source
	ObservationsRejected *prometheus.CounterVec // labels: reason
	StatesServed         prometheus.Gauge
	SnapshotTimestamp    prometheus.Gauge
	FetchDuration        *prometheus.HistogramVec // labels: source

	// Query metrics.
	Queries    *prometheus.CounterVec // labels: mode={cumulative,new}, outcome={success,partial,empty,error}
	QueryCache *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(
		[]float64{1, 5, 10, 30, 60, 120, 300, 600},
		[]float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	)

	prometheus.MustRegister(
		m.PipelineRunning,
		m.RefreshTotal,
		m.RefreshDuration,
		m.ObservationsLoaded,
		m.ObservationsRejected,
		m.StatesServed,
		m.SnapshotTimestamp,
		m.FetchDuration,
		m.Queries,
		m.QueryCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(prometheus.DefBuckets, prometheus.DefBuckets)
}

func newMetrics(refreshBuckets, fetchBuckets []float64) *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the refresh loop is active, 0 when shut down.",
		}),
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"outcome"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-reshape-commit cycle.",
			Buckets:   refreshBuckets,
		}),
		ObservationsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_loaded_total",
			Help:      "Raw observations parsed per source.",
		}, []string{"source"}),
		ObservationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_rejected_total",
			Help:      "Observations the normalizer could not resolve, by reason.",
		}, []string{"reason"}),
		StatesServed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "states_served",
			Help:      "Number of states in the committed snapshot.",
		}),
		SnapshotTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_timestamp_seconds",
			Help:      "Unix time the committed snapshot was built.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Source download duration in seconds.",
			Buckets:   fetchBuckets,
		}, []string{"source"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Aggregator queries by mode and outcome.",
		}, []string{"mode", "outcome"}),
		QueryCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_total",
			Help:      "Query result cache lookups by result.",
		}, []string{"result"}),
	}
}
