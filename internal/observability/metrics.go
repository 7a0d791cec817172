package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "loss_fusion"

// Metrics holds the Prometheus counters, histograms, and gauges for the fusion engine.
type Metrics struct {
	Runs              *prometheus.CounterVec // labels: outcome={success,partial,fatal,skipped}
	ClustersCreated   prometheus.Counter
	ClustersUpdated   prometheus.Counter
	SignalsClustered  prometheus.Counter
	SignalsSuppressed prometheus.Counter
	SignalsSkipped    prometheus.Counter
	CandidateErrors   prometheus.Counter

	RunDuration      prometheus.Histogram
	CandidateSize    prometheus.Histogram
	LastSuccessTime  prometheus.Gauge
	SchedulerRunning prometheus.Gauge

	EventPublishErrors prometheus.Counter

	// Locality backfill metrics.
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Runs,
		m.ClustersCreated,
		m.ClustersUpdated,
		m.SignalsClustered,
		m.SignalsSuppressed,
		m.SignalsSkipped,
		m.CandidateErrors,
		m.RunDuration,
		m.CandidateSize,
		m.LastSuccessTime,
		m.SchedulerRunning,
		m.EventPublishErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Fusion passes by outcome.",
		}, []string{"outcome"}),
		ClustersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clusters_created_total",
			Help:      "Clusters created from new candidates.",
		}),
		ClustersUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clusters_updated_total",
			Help:      "Existing clusters that absorbed a candidate.",
		}),
		SignalsClustered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_clustered_total",
			Help:      "Signals linked to a cluster.",
		}),
		SignalsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_suppressed_total",
			Help:      "Signals dropped as part of a low-confidence single-source candidate.",
		}),
		SignalsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_skipped_total",
			Help:      "Unclustered signals ignored because they carry no coordinates.",
		}),
		CandidateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_errors_total",
			Help:      "Candidates whose merge failed.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fusion pass.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		CandidateSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidate_size",
			Help:      "Number of signals per surviving candidate.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50},
		}),
		LastSuccessTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass that completed without a fatal error.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the periodic scheduler is active, 0 when shut down.",
		}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Cluster change event batches that failed to publish.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
	}
}
