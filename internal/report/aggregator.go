// Package report rolls stored logs and alerts up into summaries.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
)

const (
	aggregationWindow     = time.Hour
	topSources            = 20
	DefaultErrorThreshold = 10
)

// ErrorPattern is a source that logged more errors than the threshold in
// the last hour.
type ErrorPattern struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

type Aggregator struct {
	logs      *database.LogRepository
	logStats  *database.LogStatsRepository
	alerts    *database.AlertRepository
	threshold int64
	log       zerolog.Logger
	now       func() time.Time
}

func NewAggregator(logs *database.LogRepository, logStats *database.LogStatsRepository, alerts *database.AlertRepository, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		logs:      logs,
		logStats:  logStats,
		alerts:    alerts,
		threshold: DefaultErrorThreshold,
		log:       log.With().Str("component", "aggregator").Logger(),
		now:       time.Now,
	}
}

// AggregateLogs stores a roll-up of the last hour of logs.
func (a *Aggregator) AggregateLogs(ctx context.Context) (*models.LogStats, error) {
	now := a.now().UTC()
	since := now.Add(-aggregationWindow)
	filter := database.LogFilter{Start: &since}

	byLevel, err := a.logs.CountBy(ctx, "level", filter, 0)
	if err != nil {
		return nil, err
	}
	bySource, err := a.logs.CountBy(ctx, "source", filter, topSources)
	if err != nil {
		return nil, err
	}
	total, err := a.logs.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	stats := &models.LogStats{
		Timestamp: now,
		Period:    "1h",
		ByLevel:   byLevel,
		BySource:  bySource,
		Total:     total,
	}
	if err := a.logStats.Insert(ctx, stats); err != nil {
		return nil, err
	}
	a.log.Info().Int64("total", total).Int("sources", len(bySource)).Msg("Logs aggregated")
	return stats, nil
}

func (a *Aggregator) AlertSummary(ctx context.Context) (*database.AlertStats, error) {
	stats, err := a.alerts.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise alerts: %w", err)
	}
	return stats, nil
}

// ErrorPatterns returns the sources with more error or critical logs in
// the last hour than the threshold, busiest first.
func (a *Aggregator) ErrorPatterns(ctx context.Context) ([]ErrorPattern, error) {
	since := a.now().UTC().Add(-aggregationWindow)
	counts, err := a.logs.CountBy(ctx, "source", database.LogFilter{
		Levels: []models.LogLevel{models.LogLevelError, models.LogLevelCritical},
		Start:  &since,
	}, 0)
	if err != nil {
		return nil, err
	}

	patterns := make([]ErrorPattern, 0)
	for source, n := range counts {
		if n > a.threshold {
			patterns = append(patterns, ErrorPattern{Source: source, Count: n})
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Source < patterns[j].Source
	})

	for _, p := range patterns {
		a.log.Warn().Str("source", p.Source).Int64("errors", p.Count).Msg("High error rate detected")
	}
	return patterns, nil
}
