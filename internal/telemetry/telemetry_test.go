package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RuleChecked()
	m.RuleChecked()
	m.AlertCreated("critical")
	m.Notification("discord", "delivered")
	m.Ingested("metric", 5)
	m.Ingested("metric", 0)
	m.HTTPRequest("GET", "/health", "200", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rulesChecked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsCreated.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("discord", "delivered")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ingested.WithLabelValues("metric")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["infrawatch_http_requests_total"])
	assert.True(t, names["infrawatch_http_request_duration_seconds"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RuleChecked()
		m.AlertCreated("info")
		m.RuleError()
		m.ObserveCycle(time.Second)
		m.Notification("email", "failed")
		m.SchedulerRun("evaluate", "ok")
		m.Ingested("log", 1)
		m.HTTPRequest("GET", "/", "200", time.Second)
	})
}
