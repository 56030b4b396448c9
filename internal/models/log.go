package models

import "time"

type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
		return true
	}
	return false
}

// LogEntry is a structured log line shipped by an agent.
type LogEntry struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	Message       string    `gorm:"not null" json:"message"`
	Level         LogLevel  `gorm:"index" json:"level"`
	Source        string    `gorm:"index" json:"source"`
	Namespace     string    `json:"namespace"`
	Cluster       string    `json:"cluster"`
	PodName       string    `json:"pod_name,omitempty"`
	ContainerName string    `json:"container_name,omitempty"`
	Labels        Labels    `gorm:"serializer:json" json:"labels"`
	Metadata      Metadata  `gorm:"serializer:json" json:"metadata"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
}

func (LogEntry) TableName() string { return "logs" }

func (e *LogEntry) Normalize(now time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Level == "" {
		e.Level = LogLevelInfo
	}
	e.Namespace = ScopeOr(e.Namespace)
	e.Cluster = ScopeOr(e.Cluster)
	if e.Labels == nil {
		e.Labels = Labels{}
	}
	if e.Metadata == nil {
		e.Metadata = Metadata{}
	}
}

// LogStats is a periodic roll-up of log volume.
type LogStats struct {
	ID        uint             `gorm:"primarykey" json:"id"`
	Timestamp time.Time        `gorm:"index" json:"timestamp"`
	Period    string           `json:"period"`
	ByLevel   map[string]int64 `gorm:"serializer:json" json:"by_level"`
	BySource  map[string]int64 `gorm:"serializer:json" json:"by_source"`
	Total     int64            `json:"total"`
}
