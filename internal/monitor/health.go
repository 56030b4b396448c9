package monitor

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
)

const healthCheckTimeout = 5 * time.Second

// HealthChecker pings the database and, when configured, Redis.
type HealthChecker struct {
	db      *gorm.DB
	redis   *redis.Client
	records *database.HealthRepository
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewHealthChecker accepts a nil redis client when Redis is disabled.
func NewHealthChecker(db *gorm.DB, rdb *redis.Client, records *database.HealthRepository, log zerolog.Logger) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   rdb,
		records: records,
		timeout: healthCheckTimeout,
		log:     log.With().Str("component", "health").Logger(),
		now:     time.Now,
	}
}

func (h *HealthChecker) probe(ctx context.Context, ping func(ctx context.Context) error) models.ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := ping(ctx)
	res := models.ComponentHealth{
		Status:         models.HealthHealthy,
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Status = models.HealthUnhealthy
		res.Error = err.Error()
	}
	return res
}

// Check probes every component and stores the result.
func (h *HealthChecker) Check(ctx context.Context) (*models.HealthRecord, error) {
	rec := &models.HealthRecord{
		Timestamp:  h.now().UTC(),
		Overall:    models.HealthHealthy,
		Components: map[string]models.ComponentHealth{},
	}

	rec.Components["database"] = h.probe(ctx, func(ctx context.Context) error {
		return database.Ping(ctx, h.db)
	})
	if h.redis != nil {
		rec.Components["redis"] = h.probe(ctx, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		})
	}

	for name, c := range rec.Components {
		if c.Status != models.HealthHealthy {
			rec.Overall = models.HealthDegraded
			h.log.Warn().Str("component_name", name).Str("error", c.Error).Msg("Component unhealthy")
		}
	}

	if err := h.records.Insert(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}
