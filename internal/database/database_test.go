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

func TestMetricRecentWindow(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMetricRepository(dbtest.New(t))
	now := time.Now().UTC()

	var batch []models.Metric
	for i := 0; i < 15; i++ {
		batch = append(batch, models.Metric{
			Name:      "cpu_usage",
			Value:     float64(i),
			Timestamp: now.Add(-time.Duration(i) * time.Second),
		})
	}
	batch = append(batch,
		models.Metric{Name: "cpu_usage", Value: 500, Timestamp: now.Add(-10 * time.Minute)},
		models.Metric{Name: "memory_usage", Value: 42, Timestamp: now},
	)
	n, err := repo.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	got, err := repo.Recent(ctx, "cpu_usage", now.Add(-time.Minute), database.Scope{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, m := range got {
		assert.Equal(t, float64(i), m.Value, "newest first")
	}

	empty, err := repo.Recent(ctx, "disk_usage", now.Add(-time.Minute), database.Scope{}, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMetricRecentScope(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMetricRepository(dbtest.New(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, &models.Metric{Name: "cpu_usage", Value: 10, Timestamp: now, Namespace: "prod"}))
	require.NoError(t, repo.Insert(ctx, &models.Metric{Name: "cpu_usage", Value: 90, Timestamp: now}))

	got, err := repo.Recent(ctx, "cpu_usage", now.Add(-time.Minute), database.Scope{Namespace: "prod"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].Value)

	got, err = repo.Recent(ctx, "cpu_usage", now.Add(-time.Minute), database.Scope{Namespace: models.DefaultScope}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 90.0, got[0].Value)
}

func TestMetricProcessingAndRetention(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMetricRepository(dbtest.New(t))
	now := time.Now().UTC()

	_, err := repo.InsertBatch(ctx, []models.Metric{
		{Name: "a", Value: 1, Timestamp: now.Add(-8 * 24 * time.Hour)},
		{Name: "a", Value: 2, Timestamp: now},
		{Name: "b", Value: 3, Timestamp: now},
	})
	require.NoError(t, err)

	marked, err := repo.MarkProcessed(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), marked)

	marked, err = repo.MarkProcessed(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, marked)

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	page, err := repo.Query(ctx, database.MetricFilter{}, database.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	for _, m := range page.Items {
		assert.True(t, m.Processed)
		assert.NotNil(t, m.ProcessedAt)
	}
}

func TestMetricAggregate(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMetricRepository(dbtest.New(t))
	now := time.Now().UTC()

	_, err := repo.InsertBatch(ctx, []models.Metric{
		{Name: "cpu_usage", Value: 10, Source: "node-1", MetricType: models.MetricTypeCPU, Timestamp: now},
		{Name: "cpu_usage", Value: 30, Source: "node-1", MetricType: models.MetricTypeCPU, Timestamp: now},
		{Name: "cpu_usage", Value: 50, Source: "node-2", MetricType: models.MetricTypeCPU, Timestamp: now},
		{Name: "memory_usage", Value: 70, Source: "node-1", MetricType: models.MetricTypeMemory, Timestamp: now},
	})
	require.NoError(t, err)

	rows, err := repo.Aggregate(ctx, models.MetricTypeCPU, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "node-1", rows[0].Source)
	assert.InDelta(t, 20.0, rows[0].AvgValue, 0.001)
	assert.Equal(t, 10.0, rows[0].MinValue)
	assert.Equal(t, 30.0, rows[0].MaxValue)
	assert.Equal(t, int64(2), rows[0].Count)
}

func TestPagination(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMetricRepository(dbtest.New(t))
	now := time.Now().UTC()

	var batch []models.Metric
	for i := 0; i < 45; i++ {
		batch = append(batch, models.Metric{Name: "x", Value: float64(i), Timestamp: now.Add(-time.Duration(i) * time.Second)})
	}
	_, err := repo.InsertBatch(ctx, batch)
	require.NoError(t, err)

	page, err := repo.Query(ctx, database.MetricFilter{Name: "x"}, database.Page{Number: 3, Size: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(45), page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Len(t, page.Items, 5)

	page, err = repo.Query(ctx, database.MetricFilter{Name: "x"}, database.Page{Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, database.MaxPageSize, page.PageSize)
}
