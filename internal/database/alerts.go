package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/models"
)

type AlertFilter struct {
	Status   models.AlertStatus
	Severity models.Severity
	Source   string
	RuleID   *uint
}

// StatusChange carries the fields written by a lifecycle transition.
type StatusChange struct {
	Status models.AlertStatus
	// From, when set, limits the write to alerts currently in one of these
	// states.
	From           []models.AlertStatus
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

type AlertStats struct {
	TotalActive       int64            `json:"total_active"`
	TotalAcknowledged int64            `json:"total_acknowledged"`
	TotalResolved     int64            `json:"total_resolved"`
	TotalSilenced     int64            `json:"total_silenced"`
	BySeverity        map[string]int64 `json:"by_severity"`
	BySource          map[string]int64 `json:"by_source"`
}

type countRow struct {
	Key   string
	Count int64
}

type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, id uint) (*models.Alert, error) {
	var alert models.Alert
	if err := r.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		return nil, translate(err)
	}
	return &alert, nil
}

func (r *AlertRepository) List(ctx context.Context, f AlertFilter, page Page) (*Paged[models.Alert], error) {
	query := r.db.WithContext(ctx).Model(&models.Alert{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		query = query.Where("severity = ?", f.Severity)
	}
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	if f.RuleID != nil {
		query = query.Where("rule_id = ?", *f.RuleID)
	}

	result, err := paginate[models.Alert](query, page, "created_at desc, id desc")
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return result, nil
}

// UpdateStatus writes a transition and returns the updated alert. When
// change.From is set and the stored status is not in it, nothing is written
// and ErrAlertStatusChanged is returned.
func (r *AlertRepository) UpdateStatus(ctx context.Context, id uint, change StatusChange) (*models.Alert, error) {
	fields := map[string]interface{}{"status": change.Status}
	if change.AcknowledgedAt != nil {
		fields["acknowledged_by"] = change.AcknowledgedBy
		fields["acknowledged_at"] = change.AcknowledgedAt.UTC()
	}
	if change.ResolvedAt != nil {
		fields["resolved_at"] = change.ResolvedAt.UTC()
	}

	query := r.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", id)
	if len(change.From) > 0 {
		query = query.Where("status IN ?", change.From)
	}
	res := query.Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update alert: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if len(change.From) == 0 {
			return nil, ErrNotFound
		}
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlertStatusChanged
	}
	return r.Get(ctx, id)
}

func (r *AlertRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Alert{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete alert: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats counts alerts by status and severity plus the ten busiest sources.
func (r *AlertRepository) Stats(ctx context.Context) (*AlertStats, error) {
	db := r.db.WithContext(ctx)
	stats := &AlertStats{
		BySeverity: map[string]int64{},
		BySource:   map[string]int64{},
	}

	var byStatus []countRow
	if err := db.Model(&models.Alert{}).Select("status AS key, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to count alerts by status: %w", err)
	}
	for _, row := range byStatus {
		switch models.AlertStatus(row.Key) {
		case models.AlertStatusActive:
			stats.TotalActive = row.Count
		case models.AlertStatusAcknowledged:
			stats.TotalAcknowledged = row.Count
		case models.AlertStatusResolved:
			stats.TotalResolved = row.Count
		case models.AlertStatusSilenced:
			stats.TotalSilenced = row.Count
		}
	}

	var bySeverity []countRow
	if err := db.Model(&models.Alert{}).Select("severity AS key, COUNT(*) AS count").Group("severity").Scan(&bySeverity).Error; err != nil {
		return nil, fmt.Errorf("failed to count alerts by severity: %w", err)
	}
	for _, row := range bySeverity {
		stats.BySeverity[row.Key] = row.Count
	}

	var bySource []countRow
	if err := db.Model(&models.Alert{}).Select("source AS key, COUNT(*) AS count").
		Group("source").Order("count desc").Limit(10).Scan(&bySource).Error; err != nil {
		return nil, fmt.Errorf("failed to count alerts by source: %w", err)
	}
	for _, row := range bySource {
		stats.BySource[row.Key] = row.Count
	}

	return stats, nil
}

// DeleteResolvedBefore removes resolved alerts whose resolved_at is older than cutoff.
func (r *AlertRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND resolved_at < ?", models.AlertStatusResolved, cutoff.UTC()).
		Delete(&models.Alert{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
