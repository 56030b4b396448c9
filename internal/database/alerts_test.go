package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/database/dbtest"
	"github.com/br00tm/infrawatch/internal/models"
)

func newAlert(title string, severity models.Severity, source string) *models.Alert {
	return &models.Alert{
		Title:     title,
		Severity:  severity,
		Status:    models.AlertStatusActive,
		Source:    source,
		Namespace: models.DefaultScope,
		Cluster:   models.DefaultScope,
	}
}

func TestAlertStatusChanges(t *testing.T) {
	ctx := context.Background()
	repo := database.NewAlertRepository(dbtest.New(t))

	alert := newAlert("disk", models.SeverityError, "node-1")
	require.NoError(t, repo.Create(ctx, alert))

	ackAt := time.Now().UTC()
	got, err := repo.UpdateStatus(ctx, alert.ID, database.StatusChange{
		Status:         models.AlertStatusAcknowledged,
		AcknowledgedBy: "alice",
		AcknowledgedAt: &ackAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, got.Status)
	assert.Equal(t, "alice", got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)
	assert.Nil(t, got.ResolvedAt)

	_, err = repo.UpdateStatus(ctx, 4242, database.StatusChange{Status: models.AlertStatusResolved})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAlertStatusChangeIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := database.NewAlertRepository(dbtest.New(t))

	alert := newAlert("disk", models.SeverityError, "node-1")
	alert.Status = models.AlertStatusResolved
	require.NoError(t, repo.Create(ctx, alert))

	_, err := repo.UpdateStatus(ctx, alert.ID, database.StatusChange{
		Status: models.AlertStatusSilenced,
		From:   []models.AlertStatus{models.AlertStatusActive, models.AlertStatusAcknowledged},
	})
	assert.ErrorIs(t, err, database.ErrAlertStatusChanged)

	got, err := repo.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, got.Status)

	_, err = repo.UpdateStatus(ctx, 4242, database.StatusChange{
		Status: models.AlertStatusSilenced,
		From:   []models.AlertStatus{models.AlertStatusActive},
	})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAlertListFilters(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	rules := database.NewRuleRepository(db)
	alerts := database.NewAlertRepository(db)

	rule := sampleRule("High CPU")
	require.NoError(t, rules.Create(ctx, rule))

	fromRule := newAlert("cpu", models.SeverityWarning, models.AlertSourceRule)
	fromRule.RuleID = &rule.ID
	require.NoError(t, alerts.Create(ctx, fromRule))
	require.NoError(t, alerts.Create(ctx, newAlert("manual", models.SeverityCritical, models.AlertSourceManual)))

	page, err := alerts.List(ctx, database.AlertFilter{RuleID: &rule.ID}, database.Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "cpu", page.Items[0].Title)

	page, err = alerts.List(ctx, database.AlertFilter{Severity: models.SeverityCritical}, database.Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "manual", page.Items[0].Title)

	page, err = alerts.List(ctx, database.AlertFilter{}, database.Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "manual", page.Items[0].Title, "newest first")
}

func TestAlertStats(t *testing.T) {
	ctx := context.Background()
	repo := database.NewAlertRepository(dbtest.New(t))

	for _, a := range []*models.Alert{
		newAlert("a", models.SeverityWarning, "node-1"),
		newAlert("b", models.SeverityWarning, "node-1"),
		newAlert("c", models.SeverityCritical, "node-2"),
	} {
		require.NoError(t, repo.Create(ctx, a))
	}
	resolvedAt := time.Now().UTC()
	_, err := repo.UpdateStatus(ctx, 3, database.StatusChange{Status: models.AlertStatusResolved, ResolvedAt: &resolvedAt})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalActive)
	assert.Equal(t, int64(1), stats.TotalResolved)
	assert.Zero(t, stats.TotalAcknowledged)
	assert.Equal(t, map[string]int64{"warning": 2, "critical": 1}, stats.BySeverity)
	assert.Equal(t, map[string]int64{"node-1": 2, "node-2": 1}, stats.BySource)
}

func TestAlertDeleteResolvedBefore(t *testing.T) {
	ctx := context.Background()
	repo := database.NewAlertRepository(dbtest.New(t))
	now := time.Now().UTC()

	old := newAlert("old", models.SeverityInfo, "x")
	fresh := newAlert("fresh", models.SeverityInfo, "x")
	open := newAlert("open", models.SeverityInfo, "x")
	for _, a := range []*models.Alert{old, fresh, open} {
		require.NoError(t, repo.Create(ctx, a))
	}
	longAgo := now.Add(-40 * 24 * time.Hour)
	_, err := repo.UpdateStatus(ctx, old.ID, database.StatusChange{Status: models.AlertStatusResolved, ResolvedAt: &longAgo})
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, fresh.ID, database.StatusChange{Status: models.AlertStatusResolved, ResolvedAt: &now})
	require.NoError(t, err)

	deleted, err := repo.DeleteResolvedBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.Get(ctx, old.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = repo.Get(ctx, open.ID)
	assert.NoError(t, err)
}

func TestLogCountBy(t *testing.T) {
	ctx := context.Background()
	repo := database.NewLogRepository(dbtest.New(t))
	now := time.Now().UTC()

	_, err := repo.InsertBatch(ctx, []models.LogEntry{
		{Message: "connection refused", Level: models.LogLevelError, Source: "api", Timestamp: now},
		{Message: "connection refused", Level: models.LogLevelError, Source: "api", Timestamp: now},
		{Message: "started", Level: models.LogLevelInfo, Source: "worker", Timestamp: now},
	})
	require.NoError(t, err)

	byLevel, err := repo.CountBy(ctx, "level", database.LogFilter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"error": 2, "info": 1}, byLevel)

	bySource, err := repo.CountBy(ctx, "source", database.LogFilter{Levels: []models.LogLevel{models.LogLevelError}}, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"api": 2}, bySource)

	_, err = repo.CountBy(ctx, "message; drop table logs", database.LogFilter{}, 0)
	assert.Error(t, err)

	n, err := repo.Count(ctx, database.LogFilter{Search: "refused"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
