// Package app wires the configured components of an InfraWatch process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/api"
	"github.com/br00tm/infrawatch/internal/auth"
	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/monitor"
	"github.com/br00tm/infrawatch/internal/notify"
	"github.com/br00tm/infrawatch/internal/queue"
	"github.com/br00tm/infrawatch/internal/report"
	"github.com/br00tm/infrawatch/internal/retry"
	"github.com/br00tm/infrawatch/internal/scheduler"
	"github.com/br00tm/infrawatch/internal/telemetry"
	"github.com/br00tm/infrawatch/internal/ws"
)

// Components selects what Run starts.
type Components struct {
	API    bool
	Worker bool
}

var (
	All        = Components{API: true, Worker: true}
	APIOnly    = Components{API: true}
	WorkerOnly = Components{Worker: true}
)

type App struct {
	cfg *config.Config
	log zerolog.Logger

	db       *gorm.DB
	rdb      *redis.Client
	queue    queue.Queue
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	hub      *ws.Hub

	metricRepo   *database.MetricRepository
	ruleRepo     *database.RuleRepository
	alertRepo    *database.AlertRepository
	logRepo      *database.LogRepository
	logStatsRepo *database.LogStatsRepository
	healthRepo   *database.HealthRepository
	userRepo     *database.UserRepository

	Rules  *alert.RuleManager
	Alerts *alert.AlertManager
	Engine *alert.Engine
}

// New opens the database (and Redis when enabled), migrates the schema
// and builds every service. Close releases what New opened.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return newApp(cfg, db, log), nil
}

func newApp(cfg *config.Config, db *gorm.DB, log zerolog.Logger) *App {
	a := &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.New(a.registry)

	if cfg.Redis.Enabled {
		a.rdb = queue.NewRedisClient(cfg.Redis)
		a.queue = queue.NewRedisQueue(a.rdb, queue.DefaultRedisKey)
	} else {
		a.queue = queue.NewChannelQueue(cfg.Notifications.QueueSize)
	}

	a.hub = ws.NewHub(cfg.Server.CORSOrigins, log)

	a.metricRepo = database.NewMetricRepository(db)
	a.ruleRepo = database.NewRuleRepository(db)
	a.alertRepo = database.NewAlertRepository(db)
	a.logRepo = database.NewLogRepository(db)
	a.logStatsRepo = database.NewLogStatsRepository(db)
	a.healthRepo = database.NewHealthRepository(db)
	a.userRepo = database.NewUserRepository(db)

	broadcast := func(alert models.Alert) { a.hub.Broadcast(ws.EventAlert, alert) }

	a.Rules = alert.NewRuleManager(a.ruleRepo, log)
	a.Alerts = alert.NewAlertManager(a.alertRepo, a.queue, log, broadcast)
	a.Engine = alert.NewEngine(a.ruleRepo, a.metricRepo, a.queue, log,
		alert.WithRuleTimeout(cfg.Alerting.RuleTimeout),
		alert.WithMetrics(a.metrics),
		alert.WithAlertObserver(broadcast),
	)
	return a
}

func (a *App) Close() error {
	var errs []error
	if err := a.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := database.Close(a.db); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run starts the selected components and blocks until ctx is cancelled
// or one of them fails.
func (a *App) Run(ctx context.Context, c Components) error {
	if !c.API && !c.Worker {
		return errors.New("nothing to run")
	}
	if a.cfg.Server.JWTSecret == config.DevJWTSecret && c.API {
		a.log.Warn().Msg("Using the built-in development JWT secret; set server.jwt_secret in production")
	}
	if c.API && !c.Worker && !a.cfg.Redis.Enabled {
		a.log.Warn().Msg("Notifications for manual alerts are only delivered when a worker shares the queue; enable redis to run api and worker separately")
	}

	if a.cfg.Alerting.CreateDefaultRules {
		n, err := a.Rules.CreateDefaultRules(ctx)
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to create default rules")
		} else if n > 0 {
			a.log.Info().Int("count", n).Msg("Default alert rules created")
		}
	}

	var sched *scheduler.Scheduler
	if c.Worker {
		var err error
		if sched, err = a.Scheduler(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	if c.API {
		srv := a.APIServer()
		g.Go(func() error { return srv.Run(ctx) })
	}

	if c.Worker {
		sched.Start(ctx)
		g.Go(func() error {
			sched.Wait()
			return nil
		})

		worker := notify.NewWorker(notify.New(a.cfg.Notifications, a.log, a.metrics), a.dispatchPolicy(), a.log)
		g.Go(func() error { return worker.Run(ctx, a.queue) })

		if path := a.cfg.Alerting.RulesFile; path != "" {
			watcher := alert.NewRuleFileWatcher(a.Rules, path, a.log)
			g.Go(func() error {
				if err := watcher.Run(ctx); err != nil {
					a.log.Error().Err(err).Msg("Rules file watcher stopped")
				}
				return nil
			})
		}
	}

	a.log.Info().Bool("api", c.API).Bool("worker", c.Worker).Msg("InfraWatch started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) APIServer() *api.Server {
	return api.NewServer(a.cfg.Server, api.Deps{
		DB:        a.db,
		Metrics:   a.metricRepo,
		Logs:      a.logRepo,
		LogStats:  a.logStatsRepo,
		Health:    a.healthRepo,
		Users:     a.userRepo,
		Rules:     a.Rules,
		Alerts:    a.Alerts,
		Engine:    a.Engine,
		Auth:      auth.New(a.cfg.Server.JWTSecret, a.cfg.Server.TokenTTL, a.userRepo),
		Hub:       a.hub,
		Telemetry: a.metrics,
		Gatherer:  a.registry,
	}, a.log)
}

func (a *App) dispatchPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: a.cfg.Notifications.DispatchRetryAttempts,
		Backoff:     retry.Fixed(a.cfg.Notifications.DispatchRetryDelay),
	}
}

// Scheduler registers every periodic job: rule evaluation, metric
// processing, log aggregation, health checks, retention cleanup and the
// enabled collectors.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(a.log, a.metrics)
	processing := a.cfg.Processing

	processor := monitor.NewProcessor(a.metricRepo, a.log)
	aggregator := report.NewAggregator(a.logRepo, a.logStatsRepo, a.alertRepo, a.log)
	health := monitor.NewHealthChecker(a.db, a.rdb, a.healthRepo, a.log)
	cleaner := monitor.NewCleaner(a.metricRepo, a.logRepo, a.alertRepo, a.logStatsRepo, a.cfg.Retention, a.log)

	jobs := []scheduler.Job{
		{
			Name:     "evaluate_rules",
			Schedule: scheduler.Every(a.cfg.Alerting.EvaluationInterval),
			Run:      a.evaluate,
			Retry: retry.Policy{
				MaxAttempts: a.cfg.Alerting.CycleRetryAttempts,
				Backoff:     retry.Fixed(a.cfg.Alerting.CycleRetryDelay),
			},
		},
		{
			Name:     "process_metrics",
			Schedule: scheduler.Every(processing.MetricsInterval),
			Run: func(ctx context.Context) error {
				_, err := processor.ProcessMetrics(ctx)
				return err
			},
		},
		{
			Name:     "aggregate_logs",
			Schedule: scheduler.Every(processing.LogAggregationInterval),
			Run: func(ctx context.Context) error {
				if _, err := aggregator.AggregateLogs(ctx); err != nil {
					return err
				}
				patterns, err := aggregator.ErrorPatterns(ctx)
				if err != nil {
					return err
				}
				for _, p := range patterns {
					a.log.Info().Str("source", p.Source).Int64("errors", p.Count).Msg("Error pattern detected")
				}
				return nil
			},
		},
		{
			Name:       "health_check",
			Schedule:   scheduler.Every(processing.HealthInterval),
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := health.Check(ctx)
				return err
			},
		},
		{
			Name:     "cleanup",
			Schedule: scheduler.DailyAt(a.cfg.Retention.CleanupHour, 0),
			Run: func(ctx context.Context) error {
				_, err := cleaner.Run(ctx)
				return err
			},
		},
	}

	collectorJobs, err := a.collectorJobs()
	if err != nil {
		return nil, err
	}
	jobs = append(jobs, collectorJobs...)

	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.Name, err)
		}
	}
	return s, nil
}

func (a *App) collectorJobs() ([]scheduler.Job, error) {
	cc := a.cfg.Collectors
	var jobs []scheduler.Job

	add := func(c monitor.Collector, interval time.Duration) {
		jobs = append(jobs, scheduler.Job{
			Name:     "collect_" + c.Name(),
			Schedule: scheduler.Every(interval),
			Run:      monitor.CollectJob(c, a.metricRepo, a.log, a.metrics),
		})
	}

	if cc.Docker.Enabled {
		dc, err := monitor.NewDockerCollector(cc.Docker.MaxConcurrent, a.log)
		if err != nil {
			return nil, err
		}
		add(dc, cc.Docker.Interval)
	}
	if cc.Host.Enabled {
		add(monitor.NewHostCollector(), cc.Host.Interval)
	}
	if cc.Prometheus.Enabled {
		add(monitor.NewPrometheusCollector(cc.Prometheus.Targets, &http.Client{Timeout: 10 * time.Second}), cc.Prometheus.Interval)
	}
	return jobs, nil
}

func (a *App) evaluate(ctx context.Context) error {
	res, err := a.Engine.RunCycle(ctx)
	if err != nil {
		return err
	}
	a.log.Info().
		Int("rules_checked", res.RulesChecked).
		Int("alerts_created", res.AlertsCreated).
		Int("rules_skipped", res.RulesSkipped).
		Int("rule_errors", res.RuleErrors).
		Msg("Evaluation cycle finished")
	return nil
}
