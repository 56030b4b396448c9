package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/database/dbtest"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/retry"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func sampleStats() types.StatsJSON {
	var s types.StatsJSON
	s.CPUStats.CPUUsage.TotalUsage = 1200
	s.CPUStats.SystemUsage = 11000
	s.CPUStats.OnlineCPUs = 2
	s.PreCPUStats.CPUUsage.TotalUsage = 1000
	s.PreCPUStats.SystemUsage = 10000
	s.MemoryStats.Usage = 256
	s.MemoryStats.Limit = 1024
	s.BlkioStats.IoServiceBytesRecursive = []types.BlkioStatEntry{
		{Op: "Read", Value: 100},
		{Op: "Write", Value: 50},
		{Op: "Total", Value: 150},
	}
	s.Networks = map[string]types.NetworkStats{
		"eth0": {RxBytes: 10, TxBytes: 20},
		"eth1": {RxBytes: 5, TxBytes: 5},
	}
	return s
}

type fakeDocker struct {
	containers []types.Container
	failing    map[string]bool
}

func (f *fakeDocker) ContainerList(context.Context, types.ContainerListOptions) ([]types.Container, error) {
	return f.containers, nil
}

func (f *fakeDocker) ContainerStats(_ context.Context, id string, _ bool) (types.ContainerStats, error) {
	if f.failing[id] {
		return types.ContainerStats{}, errors.New("no such container")
	}
	body, _ := json.Marshal(sampleStats())
	return types.ContainerStats{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestCPUPercent(t *testing.T) {
	stats := sampleStats()
	assert.InDelta(t, 40.0, calculateCPUPercentUnix(&stats), 1e-9)
	assert.InDelta(t, 25.0, calculateMemoryPercent(&stats), 1e-9)

	stats.CPUStats.OnlineCPUs = 0
	stats.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 2, 3, 4}
	assert.InDelta(t, 80.0, calculateCPUPercentUnix(&stats), 1e-9)

	var idle types.StatsJSON
	assert.Zero(t, calculateCPUPercentUnix(&idle))
	assert.Zero(t, calculateMemoryPercent(&idle))
}

func TestDockerCollector(t *testing.T) {
	api := &fakeDocker{
		containers: []types.Container{
			{ID: "0123456789abcdef", Names: []string{"/web"}, Image: "nginx"},
			{ID: "fedcba9876543210", Names: []string{"/gone"}},
		},
		failing: map[string]bool{"fedcba9876543210": true},
	}
	c := newDockerCollector(api, 2, zerolog.Nop())
	c.retry = retry.Once
	c.now = func() time.Time { return testNow }

	samples, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fedcba987654")
	require.Len(t, samples, 5)

	byName := map[string]models.Metric{}
	for _, s := range samples {
		byName[s.Name] = s
	}
	assert.InDelta(t, 40.0, byName["cpu_usage"].Value, 1e-9)
	assert.InDelta(t, 25.0, byName["memory_usage"].Value, 1e-9)
	assert.Equal(t, 15.0, byName["network_rx_bytes"].Value)
	assert.Equal(t, 25.0, byName["network_tx_bytes"].Value)
	assert.Equal(t, 150.0, byName["disk_io_bytes"].Value)
	assert.Equal(t, "web", byName["cpu_usage"].Source)
	assert.Equal(t, "0123456789ab", byName["cpu_usage"].Labels["container_id"])
	assert.Equal(t, testNow, byName["cpu_usage"].Timestamp)
}

type fakeHost struct {
	diskErr error
}

func (fakeHost) Hostname(context.Context) (string, error) { return "node-1", nil }

func (fakeHost) CPUPercent(context.Context) (float64, error) { return 42, nil }

func (fakeHost) MemoryPercent(context.Context) (float64, error) { return 61.5, nil }

func (f fakeHost) DiskPercent(context.Context, string) (float64, error) {
	return 70, f.diskErr
}

func TestHostCollector(t *testing.T) {
	c := &HostCollector{stats: fakeHost{}, diskPath: "/", now: func() time.Time { return testNow }}
	samples, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, "cpu_usage", samples[0].Name)
	assert.Equal(t, 42.0, samples[0].Value)
	assert.Equal(t, "node-1", samples[0].Source)
	assert.Equal(t, models.MetricTypeDisk, samples[2].MetricType)

	c.stats = fakeHost{diskErr: errors.New("no such mount")}
	samples, err = c.Collect(context.Background())
	assert.ErrorContains(t, err, "disk_usage")
	assert.Len(t, samples, 2)
}

const exposition = `# HELP node_load1 1m load average.
# TYPE node_load1 gauge
node_load1 0.75
# HELP http_requests_total Requests served.
# TYPE http_requests_total counter
http_requests_total{code="200",method="get"} 1027
http_requests_total{code="500",method="get"} 3
# HELP request_seconds Request latency.
# TYPE request_seconds histogram
request_seconds_bucket{le="0.1"} 5
request_seconds_bucket{le="+Inf"} 6
request_seconds_sum 0.9
request_seconds_count 6
`

func TestPrometheusCollector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(exposition))
	}))
	defer srv.Close()

	c := NewPrometheusCollector([]config.PrometheusTarget{
		{Name: "node", URL: srv.URL + "/metrics", Namespace: "infra", Cluster: "eu-1"},
		{Name: "broken", URL: srv.URL + "/missing"},
	}, srv.Client())
	c.now = func() time.Time { return testNow }

	samples, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	require.Len(t, samples, 3)

	sort.Slice(samples, func(i, j int) bool { return samples[i].Value < samples[j].Value })
	assert.Equal(t, "node_load1", samples[0].Name)
	assert.Equal(t, 0.75, samples[0].Value)
	assert.Equal(t, "infra", samples[0].Namespace)
	assert.Equal(t, "http_requests_total", samples[2].Name)
	assert.Equal(t, "200", samples[2].Labels["code"])
	assert.Equal(t, "node", samples[2].Labels["target"])
	assert.Equal(t, models.MetricTypeCustom, samples[2].MetricType)
}

type staticCollector struct {
	samples []models.Metric
	err     error
}

func (staticCollector) Name() string { return "static" }

func (s staticCollector) Collect(context.Context) ([]models.Metric, error) {
	return s.samples, s.err
}

func TestCollectJobStoresPartialBatch(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMetricRepository(dbtest.New(t))

	job := CollectJob(staticCollector{
		samples: []models.Metric{{Name: "cpu_usage", Value: 10, Timestamp: testNow}},
		err:     errors.New("one target down"),
	}, repo, zerolog.Nop(), nil)
	require.NoError(t, job(ctx))

	failing := CollectJob(staticCollector{err: errors.New("docker down")}, repo, zerolog.Nop(), nil)
	assert.ErrorContains(t, failing(ctx), "docker down")

	page, err := repo.Query(ctx, database.MetricFilter{Name: "cpu_usage"}, database.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestProcessorAndCleaner(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	metrics := database.NewMetricRepository(db)
	logs := database.NewLogRepository(db)
	alerts := database.NewAlertRepository(db)
	logStats := database.NewLogStatsRepository(db)

	_, err := metrics.InsertBatch(ctx, []models.Metric{
		{Name: "cpu_usage", Value: 1, Timestamp: testNow.AddDate(0, 0, -8)},
		{Name: "cpu_usage", Value: 2, Timestamp: testNow.Add(-time.Hour)},
	})
	require.NoError(t, err)
	_, err = logs.InsertBatch(ctx, []models.LogEntry{
		{Message: "old", Timestamp: testNow.AddDate(0, 0, -31)},
		{Message: "new", Timestamp: testNow.Add(-time.Minute)},
	})
	require.NoError(t, err)

	oldResolved := testNow.AddDate(0, 0, -91)
	recentResolved := testNow.AddDate(0, 0, -1)
	for _, resolvedAt := range []*time.Time{&oldResolved, &recentResolved, nil} {
		a := &models.Alert{Title: "a", Severity: models.SeverityInfo, Status: models.AlertStatusActive}
		if resolvedAt != nil {
			a.Status = models.AlertStatusResolved
			a.ResolvedAt = resolvedAt
		}
		require.NoError(t, alerts.Create(ctx, a))
	}
	require.NoError(t, logStats.Insert(ctx, &models.LogStats{Timestamp: testNow.AddDate(0, 0, -8), Period: "1h"}))

	p := NewProcessor(metrics, zerolog.Nop())
	p.now = func() time.Time { return testNow }
	n, err := p.ProcessMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = p.ProcessMetrics(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c := NewCleaner(metrics, logs, alerts, logStats, config.RetentionConfig{}, zerolog.Nop())
	c.now = func() time.Time { return testNow }
	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, &CleanupResult{Metrics: 1, Logs: 1, ResolvedAlerts: 1, LogStats: 1}, res)

	stats, err := alerts.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalActive)
	assert.Equal(t, int64(1), stats.TotalResolved)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	records := database.NewHealthRepository(db)

	h := NewHealthChecker(db, nil, records, zerolog.Nop())
	h.now = func() time.Time { return testNow }
	rec, err := h.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, rec.Overall)
	require.Contains(t, rec.Components, "database")
	assert.NotContains(t, rec.Components, "redis")

	latest, err := records.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, latest.Overall)
	assert.Equal(t, models.HealthHealthy, latest.Components["database"].Status)
}
