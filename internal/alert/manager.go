package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/queue"
)

var ErrInvalidTransition = errors.New("invalid alert status transition")

// allowedFrom lists the states each target status may be entered from.
var allowedFrom = map[models.AlertStatus][]models.AlertStatus{
	models.AlertStatusAcknowledged: {models.AlertStatusActive},
	models.AlertStatusResolved:     {models.AlertStatusActive, models.AlertStatusAcknowledged},
	models.AlertStatusSilenced:     {models.AlertStatusActive, models.AlertStatusAcknowledged},
}

// AlertManager owns the alert lifecycle after creation, and manual alerts.
type AlertManager struct {
	repo     *database.AlertRepository
	queue    queue.Queue
	log      zerolog.Logger
	observer func(models.Alert)
	now      func() time.Time
}

func NewAlertManager(repo *database.AlertRepository, q queue.Queue, log zerolog.Logger, observer func(models.Alert)) *AlertManager {
	return &AlertManager{
		repo:     repo,
		queue:    q,
		log:      log.With().Str("component", "alert_manager").Logger(),
		observer: observer,
		now:      time.Now,
	}
}

// CreateManual stores an alert raised outside rule evaluation and, when
// channels are given, queues it for notification.
func (am *AlertManager) CreateManual(ctx context.Context, alert *models.Alert, channels []models.ChannelKind) error {
	if strings.TrimSpace(alert.Title) == "" {
		return &ValidationError{Err: ErrInvalidAlert, Problems: []string{"title is required"}}
	}
	if alert.Severity == "" {
		alert.Severity = models.SeverityWarning
	}
	if !alert.Severity.Valid() {
		return &ValidationError{Err: ErrInvalidAlert, Problems: []string{fmt.Sprintf("unknown severity %q", alert.Severity)}}
	}
	for _, ch := range channels {
		if !ch.Valid() {
			return &ValidationError{Err: ErrInvalidAlert, Problems: []string{fmt.Sprintf("unknown notification channel %q", ch)}}
		}
	}

	alert.ID = 0
	alert.Status = models.AlertStatusActive
	alert.RuleID = nil
	alert.AcknowledgedBy = ""
	alert.AcknowledgedAt = nil
	alert.ResolvedAt = nil
	if alert.Source == "" {
		alert.Source = models.AlertSourceManual
	}
	alert.Namespace = models.ScopeOr(alert.Namespace)
	alert.Cluster = models.ScopeOr(alert.Cluster)

	if err := am.repo.Create(ctx, alert); err != nil {
		return err
	}
	am.log.Info().Uint("alert_id", alert.ID).Str("source", alert.Source).Msg("Manual alert created")

	if am.observer != nil {
		am.observer(*alert)
	}
	if am.queue != nil && len(channels) > 0 {
		job := queue.NewJob(*alert, channels)
		if err := am.queue.Enqueue(ctx, job); err != nil {
			am.log.Error().Err(err).Uint("alert_id", alert.ID).Msg("Failed to enqueue notification")
		}
	}
	return nil
}

// Acknowledge marks an active alert as acknowledged by user.
func (am *AlertManager) Acknowledge(ctx context.Context, id uint, user string) (*models.Alert, error) {
	now := am.now().UTC()
	return am.transition(ctx, id, database.StatusChange{
		Status:         models.AlertStatusAcknowledged,
		AcknowledgedBy: user,
		AcknowledgedAt: &now,
	})
}

func (am *AlertManager) Resolve(ctx context.Context, id uint) (*models.Alert, error) {
	now := am.now().UTC()
	return am.transition(ctx, id, database.StatusChange{
		Status:     models.AlertStatusResolved,
		ResolvedAt: &now,
	})
}

func (am *AlertManager) Silence(ctx context.Context, id uint) (*models.Alert, error) {
	return am.transition(ctx, id, database.StatusChange{Status: models.AlertStatusSilenced})
}

func (am *AlertManager) transition(ctx context.Context, id uint, change database.StatusChange) (*models.Alert, error) {
	current, err := am.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(current.Status, change.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, change.Status)
	}

	// The write only lands if no concurrent transition moved the alert first.
	change.From = allowedFrom[change.Status]
	updated, err := am.repo.UpdateStatus(ctx, id, change)
	if errors.Is(err, database.ErrAlertStatusChanged) {
		return nil, fmt.Errorf("%w: alert %d is no longer %s", ErrInvalidTransition, id, current.Status)
	}
	if err != nil {
		return nil, err
	}
	am.log.Info().Uint("alert_id", id).Str("from", string(current.Status)).Str("to", string(change.Status)).Msg("Alert status changed")
	return updated, nil
}

func canTransition(from, to models.AlertStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

func (am *AlertManager) Get(ctx context.Context, id uint) (*models.Alert, error) {
	return am.repo.Get(ctx, id)
}

func (am *AlertManager) List(ctx context.Context, f database.AlertFilter, page database.Page) (*database.Paged[models.Alert], error) {
	return am.repo.List(ctx, f, page)
}

func (am *AlertManager) Delete(ctx context.Context, id uint) error {
	return am.repo.Delete(ctx, id)
}

func (am *AlertManager) Stats(ctx context.Context) (*database.AlertStats, error) {
	return am.repo.Stats(ctx)
}
