package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics engine.
type Metrics struct {
	// Recalculation job metrics
	RecalcRuns     *prometheus.CounterVec
	RecalcDuration *prometheus.HistogramVec
	DatesProcessed *prometheus.CounterVec
	ActiveJobs     prometheus.Gauge
	JobCollisions  *prometheus.CounterVec

	// Ledger read metrics
	PagesRead   *prometheus.CounterVec
	RowsRead    *prometheus.CounterVec
	ReadRetries *prometheus.CounterVec

	// Progress metrics
	ProgressEvents      prometheus.Counter
	ProgressSubscribers prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		RecalcRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recalc_runs_total",
				Help:      "Total recalculation runs by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		RecalcDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recalc_duration_seconds",
				Help:      "Recalculation run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"mode"},
		),
		DatesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recalc_dates_processed_total",
				Help:      "Calendar dates recalculated by mode",
			},
			[]string{"mode"},
		),
		ActiveJobs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "recalc_active_jobs",
				Help:      "Recalculation jobs currently running",
			},
		),
		JobCollisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recalc_job_collisions_total",
				Help:      "Jobs dropped because the store was already recalculating",
			},
			[]string{"mode"},
		),
		PagesRead: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_pages_read_total",
				Help:      "Bounded ledger pages read by source",
			},
			[]string{"source"},
		),
		RowsRead: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_rows_read_total",
				Help:      "Ledger rows read by source",
			},
			[]string{"source"},
		),
		ReadRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_read_retries_total",
				Help:      "Retried read-side storage operations",
			},
			[]string{"op"},
		),
		ProgressEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_events_total",
				Help:      "Progress events published",
			},
		),
		ProgressSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "progress_subscribers",
				Help:      "Currently connected progress observers",
			},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records a finished recalculation run.
func (m *Metrics) RecordRun(mode, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RecalcRuns.WithLabelValues(mode, status).Inc()
	m.RecalcDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordDates counts recalculated dates.
func (m *Metrics) RecordDates(mode string, n int) {
	if m == nil {
		return
	}
	m.DatesProcessed.WithLabelValues(mode).Add(float64(n))
}

// RecordPage counts one ledger page read.
func (m *Metrics) RecordPage(source string, rows int) {
	if m == nil {
		return
	}
	m.PagesRead.WithLabelValues(source).Inc()
	m.RowsRead.WithLabelValues(source).Add(float64(rows))
}

// RecordRetry counts one retried read-side storage operation.
func (m *Metrics) RecordRetry(op string) {
	if m == nil {
		return
	}
	m.ReadRetries.WithLabelValues(op).Inc()
}

// RecordCollision counts a dropped duplicate job.
func (m *Metrics) RecordCollision(mode string) {
	if m == nil {
		return
	}
	m.JobCollisions.WithLabelValues(mode).Inc()
}
