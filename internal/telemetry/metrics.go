package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	FieldUpdates       = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_field_updates_total", Help: "Committed single-field job updates"})
	BulkUpdates        = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_bulk_updates_total", Help: "Committed bulk job updates"})
	TransitionsDenied  = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_transitions_denied_total", Help: "Status changes rejected by a transition guard"})
	ValidationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_validation_failures_total", Help: "Edits rejected for malformed values"})
	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_audit_write_failures_total", Help: "Audit rows that failed to persist after a committed mutation"})
	ReceiptUploads     = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_receipt_uploads_total", Help: "Receipt files accepted and stored"})
	NotifyFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_notify_failures_total", Help: "Event publishes that failed"})
	StaleReminders     = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_stale_reminders_total", Help: "Reminder events published for stale jobs"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
	OpenJobsGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatch_open_jobs", Help: "Jobs not yet completed or cancelled"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			FieldUpdates,
			BulkUpdates,
			TransitionsDenied,
			ValidationFailures,
			AuditWriteFailures,
			ReceiptUploads,
			NotifyFailures,
			StaleReminders,
			RateLimitRejects,
			OpenJobsGauge,
		)
	})
	return promhttp.Handler()
}
