package models

import (
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSilenced     AlertStatus = "silenced"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusSilenced:
		return true
	}
	return false
}

const (
	AlertSourceRule   = "alert_rule"
	AlertSourceManual = "manual"
)

type Alert struct {
	ID             uint        `gorm:"primarykey" json:"id"`
	Title          string      `gorm:"not null" json:"title"`
	Description    string      `json:"description"`
	Severity       Severity    `gorm:"index;not null" json:"severity"`
	Status         AlertStatus `gorm:"index;not null" json:"status"`
	Source         string      `gorm:"index" json:"source"`
	Namespace      string      `json:"namespace"`
	Cluster        string      `json:"cluster"`
	Labels         Labels      `gorm:"serializer:json" json:"labels"`
	Metadata       Metadata    `gorm:"serializer:json" json:"metadata"`
	RuleID         *uint       `gorm:"index" json:"rule_id,omitempty"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time  `gorm:"index" json:"resolved_at,omitempty"`
	CreatedAt      time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
