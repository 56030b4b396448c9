// Package telemetry holds the process's own Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer, in which case every
// method is a no-op.
type Metrics struct {
	rulesChecked  prometheus.Counter
	alertsCreated *prometheus.CounterVec
	ruleErrors    prometheus.Counter
	cycleDuration prometheus.Histogram
	notifications *prometheus.CounterVec
	schedulerRuns *prometheus.CounterVec
	ingested      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		rulesChecked: factory.NewCounter(prometheus.CounterOpts{
			Name: "infrawatch_rules_checked_total",
			Help: "Alert rules evaluated.",
		}),
		alertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "infrawatch_alerts_created_total",
			Help: "Alerts created by rule evaluation.",
		}, []string{"severity"}),
		ruleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "infrawatch_rule_errors_total",
			Help: "Rule evaluations that failed.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "infrawatch_evaluation_cycle_seconds",
			Help:    "Duration of rule evaluation cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "infrawatch_notifications_total",
			Help: "Notification delivery attempts per channel and result.",
		}, []string{"channel", "result"}),
		schedulerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "infrawatch_scheduler_runs_total",
			Help: "Scheduled job runs per job and result.",
		}, []string{"job", "result"}),
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "infrawatch_ingested_total",
			Help: "Records ingested per kind.",
		}, []string{"kind"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "infrawatch_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "infrawatch_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) RuleChecked() {
	if m == nil {
		return
	}
	m.rulesChecked.Inc()
}

func (m *Metrics) AlertCreated(severity string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(severity).Inc()
}

func (m *Metrics) RuleError() {
	if m == nil {
		return
	}
	m.ruleErrors.Inc()
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) SchedulerRun(job, result string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) Ingested(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingested.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) HTTPRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
