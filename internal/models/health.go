package models

import "time"

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthDegraded  = "degraded"
)

type ComponentHealth struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// HealthRecord is one stored result of the periodic system health check.
type HealthRecord struct {
	ID         uint                       `gorm:"primarykey" json:"id"`
	Timestamp  time.Time                  `gorm:"index" json:"timestamp"`
	Overall    string                     `json:"overall"`
	Components map[string]ComponentHealth `gorm:"serializer:json" json:"components"`
}
