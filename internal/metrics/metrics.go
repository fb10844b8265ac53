// Package metrics holds the Prometheus instruments for the geocoding service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartgeocode"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Provider calls.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,skipped,transport,rate_limited,no_match,malformed}
	GeocodeAPIDuration prometheus.Histogram

	// Waterfall outcomes per row.
	WaterfallMatches *prometheus.CounterVec // labels: match_type

	// Batch jobs.
	JobsSubmitted  prometheus.Counter
	JobsFinished   *prometheus.CounterVec // labels: status={complete,failed}, reason={done,limit_hit,cancelled,invalid}
	JobsRunning    prometheus.Gauge
	RowsProcessed  *prometheus.CounterVec // labels: status={success,error,skipped}
	PersistErrors  prometheus.Counter
	NotifyFailures prometheus.Counter

	// Quota decisions.
	QuotaDenied      *prometheus.CounterVec // labels: stage={submit,row,single}
	QuotaCheckErrors *prometheus.CounterVec // labels: stage
}

func build() *Metrics {
	return &Metrics{
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocode lookups by outcome.",
		}, []string{"outcome"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Provider request duration in seconds, excluding limiter wait.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		WaterfallMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waterfall_matches_total",
			Help:      "Resolved rows by winning waterfall strategy.",
		}, []string{"match_type"}),
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Batch jobs accepted for processing.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Batch jobs reaching a terminal state.",
		}, []string{"status", "reason"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Batch jobs currently holding a worker slot.",
		}),
		RowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Batch rows processed by row status.",
		}, []string{"status"}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Job store writes that failed after retries.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Completion notifications that could not be delivered.",
		}),
		QuotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denied_total",
			Help:      "Requests refused by the monthly quota.",
		}, []string{"stage"}),
		QuotaCheckErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_check_errors_total",
			Help:      "Quota checks that could not read usage.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
		m.WaterfallMatches,
		m.JobsSubmitted,
		m.JobsFinished,
		m.JobsRunning,
		m.RowsProcessed,
		m.PersistErrors,
		m.NotifyFailures,
		m.QuotaDenied,
		m.QuotaCheckErrors,
	}
}

// New creates all metrics and registers them with the default Prometheus registry.
func New() *Metrics {
	m := build()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewForTesting creates Metrics registered with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewForTesting() *Metrics {
	m := build()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
