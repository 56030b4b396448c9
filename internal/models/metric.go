package models

import (
	"time"
)

type MetricType string

const (
	MetricTypeCPU        MetricType = "cpu"
	MetricTypeMemory     MetricType = "memory"
	MetricTypeDisk       MetricType = "disk"
	MetricTypeNetwork    MetricType = "network"
	MetricTypePod        MetricType = "pod"
	MetricTypeNode       MetricType = "node"
	MetricTypeDeployment MetricType = "deployment"
	MetricTypeContainer  MetricType = "container"
	MetricTypeCustom     MetricType = "custom"
)

func (t MetricType) Valid() bool {
	switch t {
	case MetricTypeCPU, MetricTypeMemory, MetricTypeDisk, MetricTypeNetwork, MetricTypePod,
		MetricTypeNode, MetricTypeDeployment, MetricTypeContainer, MetricTypeCustom:
		return true
	}
	return false
}

// Metric is a single time-series sample.
type Metric struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	Name        string     `gorm:"not null;index:idx_metrics_name_ts,priority:1" json:"name"`
	Value       float64    `json:"value"`
	Timestamp   time.Time  `gorm:"not null;index:idx_metrics_name_ts,priority:2;index" json:"timestamp"`
	MetricType  MetricType `gorm:"index" json:"metric_type"`
	Unit        string     `json:"unit,omitempty"`
	Source      string     `gorm:"index" json:"source"`
	Namespace   string     `json:"namespace"`
	Cluster     string     `json:"cluster"`
	Labels      Labels     `gorm:"serializer:json" json:"labels"`
	Processed   bool       `gorm:"index" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Normalize fills defaults and moves the timestamp to UTC.
func (m *Metric) Normalize(now time.Time) {
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.Timestamp = m.Timestamp.UTC()
	if m.MetricType == "" {
		m.MetricType = MetricTypeCustom
	}
	m.Namespace = ScopeOr(m.Namespace)
	m.Cluster = ScopeOr(m.Cluster)
	if m.Labels == nil {
		m.Labels = Labels{}
	}
}
