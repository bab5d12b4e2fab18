package messaging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging/queue"
)

const (
	metricsNamespace = "learning"
	metricsSubsystem = "pipeline"
)

// Metrics holds the bus and queue collectors. It implements queue.Observer.
type Metrics struct {
	eventsPublished  *prometheus.CounterVec
	handlerRuns      *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	jobsEnqueued     *prometheus.CounterVec
	jobsFallback     *prometheus.CounterVec
	jobsDropped      *prometheus.CounterVec
	queueMode        *prometheus.GaugeVec
	auditWriteErrors prometheus.Counter
	digestProcessed  *prometheus.GaugeVec
	digestFailed     *prometheus.GaugeVec
	digestScanned    prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg uses a private
// registry, which keeps tests independent of each other.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	auto := promauto.With(reg)

	return &Metrics{
		eventsPublished: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "events_published_total",
			Help:      "Events accepted by the bus",
		}, []string{"event_type"}),

		handlerRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handler_executions_total",
			Help:      "Handler executions by outcome",
		}, []string{"event_type", "handler", "status"}),

		handlerDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type", "handler"}),

		jobsEnqueued: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted by the queue adapter by delivery mode",
		}, []string{"mode"}),

		jobsFallback: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "jobs_fallback_total",
			Help:      "Jobs routed to immediate delivery by the durable queue",
		}, []string{"reason"}),

		jobsDropped: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "jobs_dropped_total",
			Help:      "Jobs that never reached a handler",
		}, []string{"reason"}),

		queueMode: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_mode",
			Help:      "1 for the active queue mode, 0 otherwise",
		}, []string{"mode"}),

		auditWriteErrors: auto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "audit_write_errors_total",
			Help:      "Audit log appends that failed",
		}),

		digestProcessed: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "audit_digest",
			Name:      "processed",
			Help:      "Processed entries per event type in the last audit digest window",
		}, []string{"event_type"}),

		digestFailed: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "audit_digest",
			Name:      "failed",
			Help:      "Failed entries per event type in the last audit digest window",
		}, []string{"event_type"}),

		digestScanned: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "audit_digest",
			Name:      "scanned",
			Help:      "Entries scanned by the last audit digest",
		}),
	}
}

// RecordPublish counts an accepted event.
func (m *Metrics) RecordPublish(eventType shared.EventType) {
	m.eventsPublished.WithLabelValues(string(eventType)).Inc()
}

// RecordHandlerExecution records one handler run.
func (m *Metrics) RecordHandlerExecution(eventType shared.EventType, handler string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.handlerRuns.WithLabelValues(string(eventType), handler, status).Inc()
	m.handlerDuration.WithLabelValues(string(eventType), handler).Observe(duration.Seconds())
}

// RecordAuditError counts a failed audit append.
func (m *Metrics) RecordAuditError() {
	m.auditWriteErrors.Inc()
}

// RecordAuditDigest replaces the digest gauges with the latest summary.
func (m *Metrics) RecordAuditDigest(summary eventlog.Summary) {
	m.digestProcessed.Reset()
	m.digestFailed.Reset()
	m.digestScanned.Set(float64(summary.Scanned))
	for _, tc := range summary.ByType {
		m.digestProcessed.WithLabelValues(string(tc.EventType)).Set(float64(tc.Processed))
		m.digestFailed.WithLabelValues(string(tc.EventType)).Set(float64(tc.Failed))
	}
}

// ─── queue.Observer ───────────────────────────────────────────────────────────

func (m *Metrics) JobEnqueued(mode queue.Mode) {
	m.jobsEnqueued.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) JobFallback(reason string) {
	m.jobsFallback.WithLabelValues(reason).Inc()
}

func (m *Metrics) JobDropped(reason string) {
	m.jobsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ModeChanged(mode queue.Mode) {
	for _, candidate := range []queue.Mode{queue.ModeImmediate, queue.ModeUninitialized, queue.ModeReady, queue.ModeDisabled} {
		v := 0.0
		if candidate == mode {
			v = 1
		}
		m.queueMode.WithLabelValues(string(candidate)).Set(v)
	}
}

var _ queue.Observer = (*Metrics)(nil)
