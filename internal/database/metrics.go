package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/models"
)

const insertBatchSize = 100

// Scope narrows a metric window to one namespace and/or cluster.
type Scope struct {
	Namespace string
	Cluster   string
}

type MetricFilter struct {
	Name       string
	Source     string
	Namespace  string
	Cluster    string
	MetricType models.MetricType
	Start      *time.Time
	End        *time.Time
}

type MetricAggregate struct {
	Source   string  `json:"source"`
	Name     string  `json:"name"`
	AvgValue float64 `json:"avg_value"`
	MinValue float64 `json:"min_value"`
	MaxValue float64 `json:"max_value"`
	Count    int64   `json:"count"`
}

type MetricRepository struct {
	db *gorm.DB
}

func NewMetricRepository(db *gorm.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

func (r *MetricRepository) Insert(ctx context.Context, m *models.Metric) error {
	m.Normalize(time.Now().UTC())
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

// InsertBatch stores all samples in one transaction.
func (r *MetricRepository) InsertBatch(ctx context.Context, metrics []models.Metric) (int, error) {
	if len(metrics) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range metrics {
		metrics[i].Normalize(now)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&metrics, insertBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert metrics batch: %w", err)
	}
	return len(metrics), nil
}

// Recent returns samples of name with timestamp >= since, newest first.
func (r *MetricRepository) Recent(ctx context.Context, name string, since time.Time, scope Scope, limit int) ([]models.Metric, error) {
	query := r.db.WithContext(ctx).
		Where("name = ? AND timestamp >= ?", name, since.UTC())
	if scope.Namespace != "" {
		query = query.Where("namespace = ?", scope.Namespace)
	}
	if scope.Cluster != "" {
		query = query.Where("cluster = ?", scope.Cluster)
	}

	var metrics []models.Metric
	if err := query.Order("timestamp desc").Limit(limit).Find(&metrics).Error; err != nil {
		return nil, fmt.Errorf("failed to read metric window: %w", err)
	}
	return metrics, nil
}

func (r *MetricRepository) Query(ctx context.Context, f MetricFilter, page Page) (*Paged[models.Metric], error) {
	query := r.db.WithContext(ctx).Model(&models.Metric{})
	if f.Name != "" {
		query = query.Where("name = ?", f.Name)
	}
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	if f.Namespace != "" {
		query = query.Where("namespace = ?", f.Namespace)
	}
	if f.Cluster != "" {
		query = query.Where("cluster = ?", f.Cluster)
	}
	if f.MetricType != "" {
		query = query.Where("metric_type = ?", f.MetricType)
	}
	if f.Start != nil {
		query = query.Where("timestamp >= ?", f.Start.UTC())
	}
	if f.End != nil {
		query = query.Where("timestamp <= ?", f.End.UTC())
	}

	result, err := paginate[models.Metric](query, page, "timestamp desc")
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	return result, nil
}

// MarkProcessed flags every unprocessed sample and returns how many changed.
func (r *MetricRepository) MarkProcessed(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Metric{}).
		Where("processed = ?", false).
		Updates(map[string]interface{}{"processed": true, "processed_at": now.UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark metrics processed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Aggregate groups samples since the given time by source and name.
func (r *MetricRepository) Aggregate(ctx context.Context, metricType models.MetricType, since time.Time) ([]MetricAggregate, error) {
	query := r.db.WithContext(ctx).Model(&models.Metric{}).
		Select("source, name, AVG(value) AS avg_value, MIN(value) AS min_value, MAX(value) AS max_value, COUNT(*) AS count").
		Where("timestamp >= ?", since.UTC())
	if metricType != "" {
		query = query.Where("metric_type = ?", metricType)
	}

	var rows []MetricAggregate
	if err := query.Group("source, name").Order("source, name").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics: %w", err)
	}
	return rows, nil
}

func (r *MetricRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&models.Metric{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old metrics: %w", res.Error)
	}
	return res.RowsAffected, nil
}
