package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/models"
)

// mutableRuleColumns are the columns a user edit may change. The firing
// state (last_triggered, trigger_count) is owned by Fire.
var mutableRuleColumns = []string{
	"name", "description", "enabled", "severity", "conditions",
	"namespace_filter", "cluster_filter", "labels_filter",
	"notification_channels", "cooldown_minutes", "updated_at",
}

type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	rule.ID = 0
	rule.LastTriggered = nil
	rule.TriggerCount = 0
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *models.AlertRule) error {
	return updateRule(r.db.WithContext(ctx), rule)
}

func updateRule(db *gorm.DB, rule *models.AlertRule) error {
	rule.UpdatedAt = time.Now().UTC()
	res := db.Model(&models.AlertRule{}).
		Where("id = ?", rule.ID).
		Select(mutableRuleColumns).
		Updates(rule)
	if res.Error != nil {
		return fmt.Errorf("failed to update rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RuleRepository) Get(ctx context.Context, id uint) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, translate(err)
	}
	return &rule, nil
}

func (r *RuleRepository) GetByName(ctx context.Context, name string) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&rule).Error; err != nil {
		return nil, translate(err)
	}
	return &rule, nil
}

func (r *RuleRepository) List(ctx context.Context, enabled *bool) ([]models.AlertRule, error) {
	query := r.db.WithContext(ctx)
	if enabled != nil {
		query = query.Where("enabled = ?", *enabled)
	}

	var rules []models.AlertRule
	if err := query.Order("name").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (r *RuleRepository) ListEnabled(ctx context.Context) ([]models.AlertRule, error) {
	enabled := true
	return r.List(ctx, &enabled)
}

func (r *RuleRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.AlertRule{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return n, nil
}

func (r *RuleRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.AlertRule{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RuleRepository) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&models.AlertRule{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("failed to update rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Fire stamps the rule and inserts the alert in one transaction. The stamp
// is conditional on trigger_count still holding the value read by the
// caller, so two concurrent evaluations cannot both fire the same rule.
// ErrRuleAlreadyFired is returned when the condition no longer holds.
func (r *RuleRepository) Fire(ctx context.Context, rule *models.AlertRule, alert *models.Alert, firedAt time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AlertRule{}).
			Where("id = ? AND trigger_count = ?", rule.ID, rule.TriggerCount).
			Updates(map[string]interface{}{
				"last_triggered": firedAt,
				"trigger_count":  gorm.Expr("trigger_count + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to stamp rule: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrRuleAlreadyFired
		}

		if err := tx.Create(alert).Error; err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rule.LastTriggered = &firedAt
	rule.TriggerCount++
	return nil
}

// Import upserts rules by name in one transaction.
func (r *RuleRepository) Import(ctx context.Context, rules []models.AlertRule) (created, updated int, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rules {
			rule := rules[i]

			var existing models.AlertRule
			findErr := tx.Where("name = ?", rule.Name).First(&existing).Error
			switch {
			case errors.Is(findErr, gorm.ErrRecordNotFound):
				rule.ID = 0
				rule.LastTriggered = nil
				rule.TriggerCount = 0
				if err := tx.Create(&rule).Error; err != nil {
					return fmt.Errorf("failed to import rule '%s': %w", rule.Name, err)
				}
				created++
			case findErr != nil:
				return fmt.Errorf("failed to look up rule '%s': %w", rule.Name, findErr)
			default:
				rule.ID = existing.ID
				if err := updateRule(tx, &rule); err != nil {
					return fmt.Errorf("failed to import rule '%s': %w", rule.Name, err)
				}
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}
