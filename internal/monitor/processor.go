package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/database"
)

// Processor runs the periodic metrics sweep.
type Processor struct {
	metrics *database.MetricRepository
	log     zerolog.Logger
	now     func() time.Time
}

func NewProcessor(metrics *database.MetricRepository, log zerolog.Logger) *Processor {
	return &Processor{
		metrics: metrics,
		log:     log.With().Str("component", "processor").Logger(),
		now:     time.Now,
	}
}

// ProcessMetrics flags every unprocessed sample as processed.
func (p *Processor) ProcessMetrics(ctx context.Context) (int64, error) {
	n, err := p.metrics.MarkProcessed(ctx, p.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.log.Info().Int64("processed", n).Msg("Metrics processed")
	}
	return n, nil
}

type CleanupResult struct {
	Metrics        int64 `json:"metrics"`
	Logs           int64 `json:"logs"`
	ResolvedAlerts int64 `json:"resolved_alerts"`
	LogStats       int64 `json:"log_stats"`
}

// Cleaner deletes data older than the configured retention.
type Cleaner struct {
	metrics   *database.MetricRepository
	logs      *database.LogRepository
	alerts    *database.AlertRepository
	logStats  *database.LogStatsRepository
	retention config.RetentionConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewCleaner(
	metrics *database.MetricRepository,
	logs *database.LogRepository,
	alerts *database.AlertRepository,
	logStats *database.LogStatsRepository,
	retention config.RetentionConfig,
	log zerolog.Logger,
) *Cleaner {
	return &Cleaner{
		metrics:   metrics,
		logs:      logs,
		alerts:    alerts,
		logStats:  logStats,
		retention: retention,
		log:       log.With().Str("component", "cleaner").Logger(),
		now:       time.Now,
	}
}

func daysAgo(now time.Time, days, fallback int) time.Time {
	if days <= 0 {
		days = fallback
	}
	return now.AddDate(0, 0, -days)
}

// Run removes old metrics, logs, resolved alerts and log stats. It stops
// at the first failing table and returns what was removed so far.
func (c *Cleaner) Run(ctx context.Context) (*CleanupResult, error) {
	now := c.now().UTC()
	res := &CleanupResult{}
	var err error

	if res.Metrics, err = c.metrics.DeleteOlderThan(ctx, daysAgo(now, c.retention.MetricsDays, 7)); err != nil {
		return res, fmt.Errorf("cleanup metrics: %w", err)
	}
	if res.Logs, err = c.logs.DeleteOlderThan(ctx, daysAgo(now, c.retention.LogsDays, 30)); err != nil {
		return res, fmt.Errorf("cleanup logs: %w", err)
	}
	if res.ResolvedAlerts, err = c.alerts.DeleteResolvedBefore(ctx, daysAgo(now, c.retention.ResolvedAlertsDays, 90)); err != nil {
		return res, fmt.Errorf("cleanup alerts: %w", err)
	}
	if res.LogStats, err = c.logStats.DeleteOlderThan(ctx, daysAgo(now, c.retention.LogStatsDays, 7)); err != nil {
		return res, fmt.Errorf("cleanup log stats: %w", err)
	}

	c.log.Info().
		Int64("metrics", res.Metrics).
		Int64("logs", res.Logs).
		Int64("resolved_alerts", res.ResolvedAlerts).
		Int64("log_stats", res.LogStats).
		Msg("Cleanup finished")
	return res, nil
}
