package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/database/dbtest"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/queue"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	if mutate != nil {
		mutate(cfg)
	}
	return newApp(cfg, dbtest.New(t), zerolog.Nop())
}

func TestEvaluateCreatesAlertAndJob(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	rule := &models.AlertRule{
		Name:                 "High CPU",
		Enabled:              true,
		Severity:             models.SeverityCritical,
		Conditions:           []models.AlertCondition{{MetricName: "cpu_usage", Operator: models.OperatorGT, Threshold: 80}},
		NotificationChannels: []models.ChannelKind{models.ChannelSlack},
	}
	require.NoError(t, a.Rules.CreateRule(ctx, rule))
	require.NoError(t, a.metricRepo.Insert(ctx, &models.Metric{Name: "cpu_usage", Value: 97, Timestamp: time.Now().UTC()}))

	require.NoError(t, a.evaluate(ctx))

	page, err := a.Alerts.List(ctx, database.AlertFilter{}, database.Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, models.AlertSourceRule, page.Items[0].Source)
	assert.Equal(t, 1, a.queue.(*queue.ChannelQueue).Len())

	// Cooldown keeps the second cycle quiet.
	require.NoError(t, a.evaluate(ctx))
	page, err = a.Alerts.List(ctx, database.AlertFilter{}, database.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestSchedulerWithCollectors(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Collectors.Host.Enabled = true
		cfg.Collectors.Prometheus.Enabled = true
	})

	s, err := a.Scheduler()
	require.NoError(t, err)
	require.NotNil(t, s)

	jobs, err := a.collectorJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "collect_host", jobs[0].Name)
	assert.Equal(t, "collect_prometheus", jobs[1].Name)
}

func TestRunNeedsComponents(t *testing.T) {
	a := newTestApp(t, nil)
	require.Error(t, a.Run(context.Background(), Components{}))
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, All) }()

	// Default rules are seeded and the health job runs on start.
	require.Eventually(t, func() bool {
		rec, err := a.healthRepo.Latest(context.Background())
		return err == nil && rec != nil
	}, 5*time.Second, 20*time.Millisecond)

	n, err := a.ruleRepo.Count(context.Background())
	require.NoError(t, err)
	assert.Positive(t, n)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
