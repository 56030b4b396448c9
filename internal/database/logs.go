package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/models"
)

type LogFilter struct {
	Level     models.LogLevel
	Levels    []models.LogLevel
	Source    string
	Namespace string
	Search    string
	Start     *time.Time
	End       *time.Time
}

type LogRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) Insert(ctx context.Context, entry *models.LogEntry) error {
	entry.Normalize(time.Now().UTC())
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

func (r *LogRepository) InsertBatch(ctx context.Context, entries []models.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range entries {
		entries[i].Normalize(now)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&entries, insertBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert logs batch: %w", err)
	}
	return len(entries), nil
}

func (r *LogRepository) filtered(ctx context.Context, f LogFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.LogEntry{})
	if f.Level != "" {
		query = query.Where("level = ?", f.Level)
	}
	if len(f.Levels) > 0 {
		query = query.Where("level IN ?", f.Levels)
	}
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	if f.Namespace != "" {
		query = query.Where("namespace = ?", f.Namespace)
	}
	if f.Search != "" {
		query = query.Where("message LIKE ?", "%"+f.Search+"%")
	}
	if f.Start != nil {
		query = query.Where("timestamp >= ?", f.Start.UTC())
	}
	if f.End != nil {
		query = query.Where("timestamp <= ?", f.End.UTC())
	}
	return query
}

func (r *LogRepository) Query(ctx context.Context, f LogFilter, page Page) (*Paged[models.LogEntry], error) {
	result, err := paginate[models.LogEntry](r.filtered(ctx, f), page, "timestamp desc")
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	return result, nil
}

// CountBy groups the filtered logs by column and returns at most limit
// groups ordered by count (limit <= 0 means all).
func (r *LogRepository) CountBy(ctx context.Context, column string, f LogFilter, limit int) (map[string]int64, error) {
	switch column {
	case "level", "source", "namespace", "cluster":
	default:
		return nil, fmt.Errorf("cannot group logs by %q", column)
	}

	query := r.filtered(ctx, f).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Order("count desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []countRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count logs by %s: %w", column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}

func (r *LogRepository) Count(ctx context.Context, f LogFilter) (int64, error) {
	var n int64
	if err := r.filtered(ctx, f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return n, nil
}

func (r *LogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&models.LogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type LogStatsRepository struct {
	db *gorm.DB
}

func NewLogStatsRepository(db *gorm.DB) *LogStatsRepository {
	return &LogStatsRepository{db: db}
}

func (r *LogStatsRepository) Insert(ctx context.Context, stats *models.LogStats) error {
	if err := r.db.WithContext(ctx).Create(stats).Error; err != nil {
		return fmt.Errorf("failed to insert log stats: %w", err)
	}
	return nil
}

func (r *LogStatsRepository) Latest(ctx context.Context) (*models.LogStats, error) {
	var stats models.LogStats
	if err := r.db.WithContext(ctx).Order("timestamp desc").First(&stats).Error; err != nil {
		return nil, translate(err)
	}
	return &stats, nil
}

func (r *LogStatsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&models.LogStats{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old log stats: %w", res.Error)
	}
	return res.RowsAffected, nil
}
