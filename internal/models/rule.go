package models

import (
	"time"
)

type Operator string

const (
	OperatorGT  Operator = "gt"
	OperatorLT  Operator = "lt"
	OperatorGTE Operator = "gte"
	OperatorLTE Operator = "lte"
	OperatorEQ  Operator = "eq"
	OperatorNE  Operator = "ne"
)

func (o Operator) Valid() bool {
	switch o {
	case OperatorGT, OperatorLT, OperatorGTE, OperatorLTE, OperatorEQ, OperatorNE:
		return true
	}
	return false
}

type ChannelKind string

const (
	ChannelEmail    ChannelKind = "email"
	ChannelTelegram ChannelKind = "telegram"
	ChannelDiscord  ChannelKind = "discord"
	ChannelSlack    ChannelKind = "slack"
	ChannelWebhook  ChannelKind = "webhook"
)

// ChannelKinds lists every supported notification channel.
var ChannelKinds = []ChannelKind{ChannelEmail, ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelWebhook}

func (k ChannelKind) Valid() bool {
	for _, c := range ChannelKinds {
		if c == k {
			return true
		}
	}
	return false
}

const (
	DefaultCooldownMinutes = 5
	DefaultDurationSeconds = 60
)

// AlertCondition is one threshold check over a metric's recent window.
type AlertCondition struct {
	MetricName      string   `json:"metric_name"`
	Operator        Operator `json:"operator"`
	Threshold       float64  `json:"threshold"`
	DurationSeconds int      `json:"duration_seconds"`
}

// Window is the lookback span of the condition; zero means the default.
func (c AlertCondition) Window() time.Duration {
	if c.DurationSeconds <= 0 {
		return DefaultDurationSeconds * time.Second
	}
	return time.Duration(c.DurationSeconds) * time.Second
}

type AlertRule struct {
	ID                   uint             `gorm:"primarykey" json:"id"`
	Name                 string           `gorm:"uniqueIndex;not null" json:"name"`
	Description          string           `json:"description"`
	Enabled              bool             `gorm:"index" json:"enabled"`
	Severity             Severity         `gorm:"not null" json:"severity"`
	Conditions           []AlertCondition `gorm:"serializer:json" json:"conditions"`
	NamespaceFilter      string           `json:"namespace_filter,omitempty"`
	ClusterFilter        string           `json:"cluster_filter,omitempty"`
	LabelsFilter         Labels           `gorm:"serializer:json" json:"labels_filter,omitempty"`
	NotificationChannels []ChannelKind    `gorm:"serializer:json" json:"notification_channels"`
	CooldownMinutes      int              `json:"cooldown_minutes"`
	LastTriggered        *time.Time       `json:"last_triggered"`
	TriggerCount         int              `gorm:"not null;default:0" json:"trigger_count"`
	CreatedBy            uint             `json:"created_by,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (r *AlertRule) Cooldown() time.Duration {
	if r.CooldownMinutes <= 0 {
		return DefaultCooldownMinutes * time.Minute
	}
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// InCooldown reports whether the rule fired less than one cooldown before now.
func (r *AlertRule) InCooldown(now time.Time) bool {
	if r.LastTriggered == nil {
		return false
	}
	return now.Sub(*r.LastTriggered) < r.Cooldown()
}
