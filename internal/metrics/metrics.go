package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	viewsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_views_recorded_total",
			Help: "Product views written to the fast tier, by result",
		},
		[]string{"result"},
	)

	recordJobsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_record_jobs_dropped_total",
			Help: "View recordings dropped because the worker queue was full",
		},
	)

	storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_store_errors_total",
			Help: "Backing store failures absorbed by degraded reads",
		},
		[]string{"tier", "op"},
	)

	malformedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_malformed_entries_total",
			Help: "Fast tier members that could not be decoded",
		},
	)

	readDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "history_read_duration_seconds",
			Help:    "History read latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"subject"},
	)

	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_sync_runs_total",
			Help: "Reconciliation sweeps, by result",
		},
		[]string{"result"},
	)

	syncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_sync_records_total",
			Help: "Records processed by reconciliation, by result",
		},
		[]string{"result"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "history_sync_duration_seconds",
			Help:    "Reconciliation sweep duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	jobOverrunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_job_overruns_total",
			Help: "Scheduled runs that took longer than their interval",
		},
		[]string{"job"},
	)

	loginEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_login_events_total",
			Help: "Login events consumed, by result",
		},
		[]string{"result"},
	)
)

func RecordView(result string) {
	viewsRecordedTotal.WithLabelValues(result).Inc()
}

func RecordJobDropped() {
	recordJobsDroppedTotal.Inc()
}

func RecordStoreError(tier, op string) {
	storeErrorsTotal.WithLabelValues(tier, op).Inc()
}

func RecordMalformedEntry() {
	malformedEntriesTotal.Inc()
}

func ObserveRead(subject string, d time.Duration) {
	readDuration.WithLabelValues(subject).Observe(d.Seconds())
}

// RecordSync records one reconciliation sweep.
func RecordSync(upserted, failed int, d time.Duration) {
	result := "ok"
	if failed > 0 {
		result = "partial"
	}
	syncRunsTotal.WithLabelValues(result).Inc()
	syncRecordsTotal.WithLabelValues("upserted").Add(float64(upserted))
	syncRecordsTotal.WithLabelValues("failed").Add(float64(failed))
	syncDuration.Observe(d.Seconds())
}

func RecordOverrun(job string) {
	jobOverrunsTotal.WithLabelValues(job).Inc()
}

func RecordLoginEvent(result string) {
	loginEventsTotal.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
